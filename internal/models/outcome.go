package models

// ErrorKind is the closed taxonomy of automation failure reasons.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindParse            ErrorKind = "parse_error"
	ErrorKindLogin            ErrorKind = "login_failure"
	ErrorKindPatientNotFound  ErrorKind = "patient_not_found"
	ErrorKindDuplicatePatient ErrorKind = "duplicate_patient"
	ErrorKindNavigation       ErrorKind = "navigation_failure"
	ErrorKindSubmit           ErrorKind = "submit_failure"
)

// Outcome is the terminal result of one automation run. Expected alternate
// outcomes (patient not found, duplicate match, login rejection) are values
// here, not panics, so every caller handles each kind explicitly.
type Outcome struct {
	Success bool      `json:"success"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message,omitempty"`

	// MovedTo is where Cleanup relocated the source file (processed/ on
	// success, failed/ on any fatal failure). Empty if relocation itself
	// failed; the file then remains in its original folder.
	MovedTo string `json:"movedTo,omitempty"`
}

// Succeeded returns a success outcome.
func Succeeded() *Outcome {
	return &Outcome{Success: true}
}

// Failed returns a failure outcome of the given kind.
func Failed(kind ErrorKind, message string) *Outcome {
	return &Outcome{Kind: kind, Message: message}
}
