package models

// Credentials identify the CRM account a run operates under. Supplied by the
// configuration collaborator; the core never persists them.
type Credentials struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AutomationRequest is the complete input for one automation run: the selected
// session data merged with user-supplied overrides, plus the source file the
// run accounts for. Built fresh per submission and owned exclusively by the
// run that consumes it.
type AutomationRequest struct {
	Credentials Credentials `json:"credentials"`
	StoreID     string      `json:"storeId"`

	PatientName string `json:"patientName"`
	BirthDate   string `json:"birthDate"` // YYYY-MM-DD, may be empty

	// Fields is the flat key -> value map applied through the field map:
	// the selected sessions' measurements overlaid with overrides such as
	// InspectorName, otoscopy booleans and image paths.
	Fields map[string]string `json:"fields"`

	// SourcePath is the export file this run consumes; relocated to
	// processed/ or failed/ on any terminal outcome.
	SourcePath string `json:"sourcePath"`
}

// NewAutomationRequest merges the session measurements with overrides
// (overrides win) into a request for the given source file.
func NewAutomationRequest(creds Credentials, storeID string, session *Session, overrides map[string]string, sourcePath string) *AutomationRequest {
	fields := make(map[string]string, len(session.Measurements)+len(overrides))
	for k, v := range session.Measurements {
		fields[k] = v
	}
	for k, v := range overrides {
		fields[k] = v
	}
	return &AutomationRequest{
		Credentials: creds,
		StoreID:     storeID,
		PatientName: session.PatientName,
		BirthDate:   session.BirthDate,
		Fields:      fields,
		SourcePath:  sourcePath,
	}
}

// Field returns the merged value for key, or "" when absent.
func (r *AutomationRequest) Field(key string) string {
	return r.Fields[key]
}
