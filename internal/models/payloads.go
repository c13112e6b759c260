package models

// --- Replication starter ---

// StartReplicationRequest is the payload for the HandleStartReplication function.
type StartReplicationRequest struct {
	ReferenceDocumentID string `json:"referenceDocumentId"`
}

// StartReplicationResponse is returned as soon as the run is handed off.
type StartReplicationResponse struct {
	ExecutionID string       `json:"executionId"`
	Status      GlobalStatus `json:"status"`
}

// --- Replication runner ---

// RunReplicationRequest is sent by the workflow to HandleRunReplication. It
// is also the workflow's argument.
type RunReplicationRequest struct {
	ExecutionID string `json:"executionId"`
}

// RunReplicationResponse reports the terminal state of a run.
type RunReplicationResponse struct {
	ExecutionID    string       `json:"executionId"`
	Status         GlobalStatus `json:"status"`
	CompletedSteps int          `json:"completedSteps"`
	TotalSteps     int          `json:"totalSteps"`
	HaltedAt       StepName     `json:"haltedAt,omitempty"`
}

// --- Replication resumer ---

// ResumeReplicationRequest is the payload for HandleResumeReplication.
type ResumeReplicationRequest struct {
	ExecutionID string `json:"executionId"`
}

// --- Comparison flattener ---

// GCSEvent is the data of a storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}
