package models

import "time"

// RunRecord is the audit trail entry for one automation run.
type RunRecord struct {
	ID          string    `json:"id"`
	SourcePath  string    `json:"sourcePath"`
	PatientName string    `json:"patientName"`
	StoreID     string    `json:"storeId,omitempty"`
	Success     bool      `json:"success"`
	Kind        ErrorKind `json:"kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	MovedTo     string    `json:"movedTo,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}
