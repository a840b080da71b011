package models

// Session holds one day's worth of canonicalized audiology measurements
// extracted from a NOAH export file. Sessions are built once by the extractor
// and consumed read-only afterwards.
type Session struct {
	Date        string `json:"date"` // YYYY-MM-DD
	PatientName string `json:"patientName"`
	BirthDate   string `json:"birthDate"`

	// Measurements maps canonical keys (PTA_Left_Air_500, Tymp_Right_Compliance,
	// Speech_Left_SRT, TestDateY, ...) to their string form values.
	Measurements map[string]string `json:"measurements"`
}

// Get returns the measurement for key, or "" when absent.
func (s *Session) Get(key string) string {
	return s.Measurements[key]
}

// Has reports whether a non-empty measurement exists for key.
func (s *Session) Has(key string) bool {
	return s.Measurements[key] != ""
}

// TympSummary describes which ears have tympanometry data on one date.
type TympSummary struct {
	Date  string `json:"date"`
	Left  bool   `json:"left"`
	Right bool   `json:"right"`
}

// SessionOverview is the lightweight per-file summary offered to the
// session-selection wizard: which dates carry pure-tone data and which carry
// tympanometry, plus the patient identity.
type SessionOverview struct {
	PatientName string        `json:"patientName"`
	BirthDate   string        `json:"birthDate"`
	PTADates    []string      `json:"ptaDates"`  // descending
	TympDates   []TympSummary `json:"tympDates"` // descending
}
