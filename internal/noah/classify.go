package noah

// Classify assigns a Jerger-style tympanogram type from the peak pressure
// (daPa) and peak compliance (mL). Either input may be absent (nil), in which
// case no type is assigned.
//
//	B  — flat, compliance <= 0.1
//	C  — peak pressure outside -100..+100
//	As — shallow peak, compliance < 0.3 in the normal pressure band
//	Ad — deep peak, compliance > 1.6 in the normal pressure band
//	A  — otherwise normal
func Classify(peakPressure, peakCompliance *float64) string {
	if peakPressure == nil || peakCompliance == nil {
		return ""
	}

	if *peakCompliance <= 0.1 {
		return "B"
	}

	if *peakPressure < -100 || *peakPressure > 100 {
		return "C"
	}

	switch {
	case *peakCompliance < 0.3:
		return "As"
	case *peakCompliance > 1.6:
		return "Ad"
	default:
		return "A"
	}
}
