package fieldmap

import "fmt"

// entries is the complete form binding table, assembled once at init.
var entries = buildEntries()

// Standard audiometric frequencies (Hz) per conduction type.
var (
	airFrequencies    = []int{250, 500, 1000, 2000, 3000, 4000, 6000, 8000}
	boneFrequencies   = []int{250, 500, 1000, 2000, 3000, 4000}
	uclFrequencies    = []int{250, 500, 1000, 2000, 3000, 4000, 6000, 8000}
	reflexFrequencies = []int{500, 1000, 2000, 4000}
)

func buildEntries() []Entry {
	var out []Entry

	// Basic settings.
	out = append(out,
		Entry{Key: InspectorNameKey, SelectorType: SelectorID, SelectorValue: "InspectorName", Kind: KindText},
		Entry{Key: "TestDateY", SelectorType: SelectorName, SelectorValue: "TestDateY", Kind: KindSelect},
		Entry{Key: "TestDateM", SelectorType: SelectorName, SelectorValue: "TestDateM", Kind: KindSelect},
		Entry{Key: "TestDateD", SelectorType: SelectorName, SelectorValue: "TestDateD", Kind: KindSelect},
	)

	// Otoscopy, tympanometry, speech, pure tone and reflexes repeat per ear.
	for _, side := range []string{"Left", "Right"} {
		out = append(out, otoscopyEntries(side)...)
		out = append(out, tympanometryEntries(side)...)
		out = append(out, pureToneEntries(side)...)
		out = append(out, speechEntries(side)...)
		out = append(out, reflexEntries(side)...)
	}

	return out
}

func otoscopyEntries(side string) []Entry {
	return []Entry{
		{Key: "Otoscopy_" + side + "_Clean", SelectorType: SelectorID, SelectorValue: side + "EarClean_Y", Kind: KindRadio, ValueMatch: "Y"},
		{Key: "Otoscopy_" + side + "_Clean", SelectorType: SelectorID, SelectorValue: side + "EarClean_N", Kind: KindRadio, ValueMatch: "N"},
		{Key: "Otoscopy_" + side + "_Intact", SelectorType: SelectorID, SelectorValue: side + "EarIntact_Y", Kind: KindRadio, ValueMatch: "Y"},
		{Key: "Otoscopy_" + side + "_Intact", SelectorType: SelectorID, SelectorValue: side + "EarIntact_N", Kind: KindRadio, ValueMatch: "N"},
		{Key: "Otoscopy_" + side + "_Image", SelectorType: SelectorClass, SelectorValue: "dev-upload-" + lower(side) + "-otoscopic", Kind: KindFile},
		{Key: "Otoscopy_" + side + "_Desc", SelectorType: SelectorID, SelectorValue: side + "EarDesc", Kind: KindTextarea},
	}
}

func tympanometryEntries(side string) []Entry {
	return []Entry{
		{Key: "Tymp_" + side + "_Type", SelectorType: SelectorID, SelectorValue: side + "EarType", Kind: KindText},
		{Key: "Tymp_" + side + "_Vol", SelectorType: SelectorID, SelectorValue: side + "EarVol", Kind: KindText},
		{Key: "Tymp_" + side + "_Pressure", SelectorType: SelectorID, SelectorValue: side + "EarPressure", Kind: KindText},
		{Key: "Tymp_" + side + "_Compliance", SelectorType: SelectorID, SelectorValue: side + "EarCompliance", Kind: KindText},
	}
}

func pureToneEntries(side string) []Entry {
	var out []Entry
	for _, freq := range airFrequencies {
		out = append(out, Entry{
			Key:           fmt.Sprintf("PTA_%s_Air_%d", side, freq),
			SelectorType:  SelectorID,
			SelectorValue: fmt.Sprintf("%sEarAir_%d", side, freq),
			Kind:          KindText,
		})
	}
	for _, freq := range boneFrequencies {
		out = append(out, Entry{
			Key:           fmt.Sprintf("PTA_%s_Bone_%d", side, freq),
			SelectorType:  SelectorID,
			SelectorValue: fmt.Sprintf("%sEarBone_%d", side, freq),
			Kind:          KindText,
		})
	}
	for _, freq := range uclFrequencies {
		out = append(out, Entry{
			Key:           fmt.Sprintf("PTA_%s_UCL_%d", side, freq),
			SelectorType:  SelectorID,
			SelectorValue: fmt.Sprintf("%sEarUcl_%d", side, freq),
			Kind:          KindText,
		})
	}
	return out
}

func speechEntries(side string) []Entry {
	return []Entry{
		{Key: "Speech_" + side + "_Type", SelectorType: SelectorID, SelectorValue: side + "SpeechThrType", Kind: KindSelect},
		{Key: "Speech_" + side + "_SRT", SelectorType: SelectorID, SelectorValue: side + "SpeechThrRes", Kind: KindText},
		{Key: "Speech_" + side + "_SDS", SelectorType: SelectorID, SelectorValue: side + "SpeechScore", Kind: KindText},
		{Key: "Speech_" + side + "_MCL", SelectorType: SelectorID, SelectorValue: side + "SpeechMcl", Kind: KindText},
	}
}

func reflexEntries(side string) []Entry {
	var out []Entry
	for _, freq := range reflexFrequencies {
		out = append(out, Entry{
			Key:           fmt.Sprintf("Reflex_%s_%d", side, freq),
			SelectorType:  SelectorID,
			SelectorValue: fmt.Sprintf("%sEarReflex_%d", side, freq),
			Kind:          KindText,
		})
	}
	return out
}

func lower(side string) string {
	if side == "Left" {
		return "left"
	}
	return "right"
}
