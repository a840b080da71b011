package noah

import (
	"encoding/xml"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/noahflow/agent/internal/models"
)

// ParseError indicates a malformed export or missing required structure.
// The source file is left untouched when this is returned.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("noah: %s: %v", e.Reason, e.Err)
	}
	return "noah: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// element is a generic XML tree node; the export schema varies too much
// between fitting software versions for a fixed struct mapping.
type element struct {
	XMLName  xml.Name
	Content  string    `xml:",chardata"`
	Children []element `xml:",any"`
}

// find returns the first descendant with the given local name, depth-first.
func (e *element) find(name string) *element {
	for i := range e.Children {
		c := &e.Children[i]
		if c.XMLName.Local == name {
			return c
		}
		if found := c.find(name); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant with the given local name, in document order.
func (e *element) findAll(name string) []*element {
	var out []*element
	for i := range e.Children {
		c := &e.Children[i]
		if c.XMLName.Local == name {
			out = append(out, c)
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

// child returns the first direct child with the given local name.
func (e *element) child(name string) *element {
	for i := range e.Children {
		if e.Children[i].XMLName.Local == name {
			return &e.Children[i]
		}
	}
	return nil
}

// text returns the trimmed text of the first descendant with the given name.
func (e *element) text(name string) string {
	if n := e.find(name); n != nil {
		return strings.TrimSpace(n.Content)
	}
	return ""
}

// floatOf returns the numeric value of the first descendant with the given
// name, or nil when absent or non-numeric.
func (e *element) floatOf(name string) *float64 {
	s := e.text(name)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// Raw impedance values arrive inconsistently scaled: some instruments report
// mL, others hundredths of a mL. Values above this threshold are divided by
// 100. The source unit is undocumented; the behavior matches observed data.
const complianceScaleThreshold = 5

// normalizeCompliance applies the >threshold scale-down, rounded to 2 places.
func normalizeCompliance(v float64) float64 {
	if v > complianceScaleThreshold {
		return math.Round(v) / 100
	}
	return v
}

// formatFloat renders a measurement value without a trailing ".0".
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// sessionAccumulator collects one date's measurements during the walk.
type sessionAccumulator struct {
	date   string
	fields map[string]string
}

func newAccumulator(dateKey, fullDate string) *sessionAccumulator {
	acc := &sessionAccumulator{date: dateKey, fields: map[string]string{
		"FullTestDate": fullDate,
	}}
	parts := strings.Split(dateKey, "-")
	if len(parts) > 0 {
		acc.fields["TestDateY"] = parts[0]
	}
	// Month and day without leading zero; the CRM date selects use bare numbers.
	if len(parts) > 1 {
		acc.fields["TestDateM"] = strings.TrimLeft(parts[1], "0")
	}
	if len(parts) > 2 {
		acc.fields["TestDateD"] = strings.TrimLeft(parts[2], "0")
	}
	return acc
}

func (a *sessionAccumulator) set(key, value string) { a.fields[key] = value }

// earSide resolves Left/Right from a stimulus-output descriptor: a substring
// match, or the enumerated codes 1 (right) and 2 (left). Empty when unknown.
func earSide(output string) string {
	lower := strings.ToLower(output)
	switch {
	case strings.Contains(lower, "right") || output == "1":
		return "Right"
	case strings.Contains(lower, "left") || output == "2":
		return "Left"
	}
	return ""
}

// descSide resolves the ear side from an action's free-text description.
func descSide(description string) string {
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "right"):
		return "Right"
	case strings.Contains(lower, "left"):
		return "Left"
	}
	return ""
}

// ExtractSessions parses one NOAH export and returns its sessions, one per
// distinct ActionDate day, newest first.
func ExtractSessions(raw []byte) ([]*models.Session, error) {
	root, err := parseRoot(raw)
	if err != nil {
		return nil, err
	}

	name, birth := patientIdentity(root)

	grouped := map[string]*sessionAccumulator{}
	for _, action := range root.findAll("Action") {
		dateElem := action.child("ActionDate")
		if dateElem == nil || strings.TrimSpace(dateElem.Content) == "" {
			continue
		}
		fullDate := strings.TrimSpace(dateElem.Content)
		dateKey, _, _ := strings.Cut(fullDate, "T")

		acc, ok := grouped[dateKey]
		if !ok {
			acc = newAccumulator(dateKey, fullDate)
			grouped[dateKey] = acc
		}

		typeOfData := strings.ToLower(action.text("TypeOfData"))
		switch {
		case strings.Contains(typeOfData, "audiogram"):
			extractAudiogram(action, acc)
		case strings.Contains(typeOfData, "impedance"):
			extractImpedance(action, acc)
		}
	}

	dates := make([]string, 0, len(grouped))
	for d := range grouped {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	sessions := make([]*models.Session, 0, len(dates))
	for _, d := range dates {
		sessions = append(sessions, &models.Session{
			Date:         d,
			PatientName:  name,
			BirthDate:    birth,
			Measurements: grouped[d].fields,
		})
	}
	return sessions, nil
}

func parseRoot(raw []byte) (*element, error) {
	cleaned := StripNamespaces(raw)

	var root element
	if err := xml.Unmarshal(cleaned, &root); err != nil {
		return nil, &ParseError{Reason: "malformed XML", Err: err}
	}
	if len(root.Children) == 0 {
		return nil, &ParseError{Reason: "empty document"}
	}
	return &root, nil
}

// patientIdentity extracts the cleaned display name and normalized birth date.
func patientIdentity(root *element) (name, birth string) {
	// Exports wrap the record in Patient/Patient; fall back to the outer
	// element when the inner one is missing.
	patient := root.find("Patient")
	if patient != nil {
		if inner := patient.child("Patient"); inner != nil {
			patient = inner
		}
	}

	var rawFirst, rawLast string
	if patient != nil {
		if fn := patient.child("FirstName"); fn != nil {
			rawFirst = strings.TrimSpace(fn.Content)
		}
		if ln := patient.child("LastName"); ln != nil {
			rawLast = strings.TrimSpace(ln.Content)
		}
		for _, tag := range []string{"DateofBirth", "DateOfBirth", "BirthDate"} {
			if d := patient.child(tag); d != nil && strings.TrimSpace(d.Content) != "" {
				birth = strings.TrimSpace(d.Content)
				break
			}
		}
	}

	// Normalize a T-separated timestamp to a bare date.
	birth, _, _ = strings.Cut(birth, "T")

	return CleanPatientName(rawFirst, rawLast), birth
}

// extractAudiogram walks the tone, UCL and speech sub-blocks of one
// Audiogram-typed action into the accumulator.
func extractAudiogram(action *element, acc *sessionAccumulator) {
	// Pure-tone thresholds.
	for _, block := range action.findAll("ToneThresholdAudiogram") {
		extractToneBlock(block, acc, "")
	}

	// Uncomfortable levels share the tone point structure.
	for _, block := range action.findAll("UncomfortableLevel") {
		extractToneBlock(block, acc, "UCL")
	}

	// Speech reception threshold.
	for _, block := range action.findAll("SpeechReceptionThresholdAudiogram") {
		side := earSide(block.text("StimulusSignalOutput"))
		if side == "" {
			continue
		}
		for _, pt := range block.findAll("SpeechReceptionPoints") {
			if level := pt.floatOf("StimulusLevel"); level != nil {
				acc.set("Speech_"+side+"_SRT", strconv.Itoa(int(*level)))
			}
		}
	}

	// Discrimination score: the best of repeated measurements counts.
	for _, block := range action.findAll("SpeechDiscriminationAudiogram") {
		side := earSide(block.text("StimulusSignalOutput"))
		if side == "" {
			continue
		}
		maxScore := -1.0
		for _, pt := range block.findAll("SpeechDiscriminationPoints") {
			if score := pt.floatOf("ScorePercent"); score != nil && *score > maxScore {
				maxScore = *score
			}
		}
		if maxScore > -1 {
			acc.set("Speech_"+side+"_SDS", strconv.Itoa(int(maxScore)))
		}
	}

	// Most comfortable level.
	for _, block := range action.findAll("SpeechMostComfortableLevel") {
		side := earSide(block.text("StimulusSignalOutput"))
		if side == "" {
			continue
		}
		for _, pt := range block.findAll("SpeechMostComfortablePoint") {
			if level := pt.floatOf("StimulusLevel"); level != nil {
				acc.set("Speech_"+side+"_MCL", strconv.Itoa(int(*level)))
			}
		}
	}
}

// extractToneBlock writes PTA_{Side}_{Conduction|UCL}_{Freq} keys for every
// frequency point in one tone-style block. kind overrides the conduction
// segment when non-empty (used for UCL blocks).
func extractToneBlock(block *element, acc *sessionAccumulator, kind string) {
	output := block.text("StimulusSignalOutput")
	side := earSide(output)
	if side == "" {
		return
	}

	segment := kind
	if segment == "" {
		segment = "Air"
		if strings.Contains(strings.ToLower(output), "bone") {
			segment = "Bone"
		}
	}

	for _, pt := range block.findAll("TonePoints") {
		freq := pt.floatOf("StimulusFrequency")
		level := pt.floatOf("StimulusLevel")
		if freq == nil || level == nil {
			continue
		}
		key := fmt.Sprintf("PTA_%s_%s_%d", side, segment, int(*freq))
		value := strconv.Itoa(int(*level))
		if strings.EqualFold(pt.text("TonePointStatus"), "noresponse") {
			value += "NR"
		}
		acc.set(key, value)
	}
}

// extractImpedance walks one Impedance-typed action's TympanogramTest into
// the accumulator and classifies the curve.
func extractImpedance(action *element, acc *sessionAccumulator) {
	side := descSide(action.text("Description"))
	if side == "" {
		return
	}

	tymp := action.find("TympanogramTest")
	if tymp == nil {
		return
	}

	// Ear canal volume.
	if cv := tymp.find("CanalVolume"); cv != nil {
		if v := cv.floatOf("ArgumentCompliance1"); v != nil {
			acc.set("Tymp_"+side+"_Vol", formatFloat(normalizeCompliance(*v)))
		}
	}

	// Peak compliance.
	var peakCompliance *float64
	if mc := tymp.find("MaximumCompliance"); mc != nil {
		if v := mc.floatOf("ArgumentCompliance1"); v != nil {
			norm := normalizeCompliance(*v)
			peakCompliance = &norm
			acc.set("Tymp_"+side+"_Compliance", formatFloat(norm))
		}
	}

	// Peak pressure: the pressure at the compliance point with maximum
	// compliance; a top-level Pressure tag is the fallback when the curve
	// points are missing.
	var peakPressure *float64
	if points := tymp.findAll("CompliancePoint"); len(points) > 0 {
		maxCompliance := -1.0
		for _, cp := range points {
			pressure := cp.floatOf("Pressure")
			comp := cp.find("Compliance")
			if pressure == nil || comp == nil {
				continue
			}
			if c := comp.floatOf("ArgumentCompliance1"); c != nil && *c > maxCompliance {
				maxCompliance = *c
				peakPressure = pressure
			}
		}
	} else if p := tymp.floatOf("Pressure"); p != nil {
		peakPressure = p
	}
	if peakPressure != nil {
		acc.set("Tymp_"+side+"_Pressure", strconv.Itoa(int(*peakPressure)))
	}

	if t := Classify(peakPressure, peakCompliance); t != "" {
		acc.set("Tymp_"+side+"_Type", t)
	}
}

// Overview summarizes which dates carry pure-tone and tympanometry data,
// for the session-selection wizard.
func Overview(raw []byte) (*models.SessionOverview, error) {
	root, err := parseRoot(raw)
	if err != nil {
		return nil, err
	}

	name, birth := patientIdentity(root)

	ptaDates := map[string]bool{}
	tympByDate := map[string]*models.TympSummary{}

	for _, action := range root.findAll("Action") {
		dateElem := action.child("ActionDate")
		if dateElem == nil || strings.TrimSpace(dateElem.Content) == "" {
			continue
		}
		dateKey, _, _ := strings.Cut(strings.TrimSpace(dateElem.Content), "T")

		typeOfData := strings.ToLower(action.text("TypeOfData"))
		switch {
		case strings.Contains(typeOfData, "audiogram"):
			ptaDates[dateKey] = true
		case strings.Contains(typeOfData, "impedance"):
			summary, ok := tympByDate[dateKey]
			if !ok {
				summary = &models.TympSummary{Date: dateKey}
				tympByDate[dateKey] = summary
			}
			switch descSide(action.text("Description")) {
			case "Left":
				summary.Left = true
			case "Right":
				summary.Right = true
			}
		}
	}

	overview := &models.SessionOverview{PatientName: name, BirthDate: birth}
	for d := range ptaDates {
		overview.PTADates = append(overview.PTADates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(overview.PTADates)))

	tympDates := make([]string, 0, len(tympByDate))
	for d := range tympByDate {
		tympDates = append(tympDates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(tympDates)))
	for _, d := range tympDates {
		s := tympByDate[d]
		if s.Left || s.Right {
			overview.TympDates = append(overview.TympDates, *s)
		}
	}

	return overview, nil
}
