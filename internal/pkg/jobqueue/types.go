package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeLedgerCleanup   JobType = "ledger_cleanup"
	JobTypeClaimsReconcile JobType = "claims_reconcile"
	JobTypeClaimsSyncUser  JobType = "claims_sync_user"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// LedgerCleanupJobPayload contains the payload for ledger cleanup jobs
type LedgerCleanupJobPayload struct {
	BatchLimit int `json:"batch_limit"`
}

// ToMap converts the payload to a map for storage
func (p LedgerCleanupJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"batch_limit": p.BatchLimit,
	}
}

// FromMap creates a payload from a map
func LedgerCleanupJobPayloadFromMap(data map[string]interface{}) (*LedgerCleanupJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload LedgerCleanupJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// ClaimsReconcileJobPayload contains the payload for full claims sweeps
type ClaimsReconcileJobPayload struct {
	PageSize int `json:"page_size"`
}

// ToMap converts the payload to a map for storage
func (p ClaimsReconcileJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"page_size": p.PageSize,
	}
}

// FromMap creates a payload from a map
func ClaimsReconcileJobPayloadFromMap(data map[string]interface{}) (*ClaimsReconcileJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ClaimsReconcileJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// ClaimsSyncUserJobPayload contains the payload for single-user claims syncs
type ClaimsSyncUserJobPayload struct {
	UserID string `json:"user_id"`
}

// ToMap converts the payload to a map for storage
func (p ClaimsSyncUserJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id": p.UserID,
	}
}

// FromMap creates a payload from a map
func ClaimsSyncUserJobPayloadFromMap(data map[string]interface{}) (*ClaimsSyncUserJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload ClaimsSyncUserJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
