package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Enums
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job in this status must not be picked up again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type Capability string

const (
	CapabilityTTS           Capability = "tts"
	CapabilityLipSync       Capability = "lipsync"
	CapabilityCompleteVideo Capability = "complete_video"
)

// FormFields is the form a client submits for one greeting.
// It is stored as JSON in Redis and as JSONB in Postgres.
type FormFields struct {
	Nombre            string `json:"nombre"`
	Parentesco        string `json:"parentesco"`
	Email             string `json:"email"`
	Provincia         string `json:"provincia"`
	QueHizo           string `json:"queHizo"`
	RecuerdoEspecial  string `json:"recuerdoEspecial"`
	PedidoNocheMagica string `json:"pedidoNocheMagica"`
}

func (f FormFields) Value() (driver.Value, error) {
	return json.Marshal(f)
}

func (f *FormFields) Scan(value interface{}) error {
	if value == nil {
		*f = FormFields{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported form fields type %T", value)
	}
	return json.Unmarshal(raw, f)
}

// Job is the persisted record for one greeting, keyed by VideoID.
// Only the worker holding the job lock mutates it.
type Job struct {
	VideoID     string     `json:"videoId"`
	Status      JobStatus  `json:"status"`
	Data        FormFields `json:"data"`
	Attempt     int        `json:"attempt"`
	Strategy    string     `json:"strategy,omitempty"`
	VideoURL    string     `json:"videoUrl,omitempty"`
	Error       string     `json:"error,omitempty"`
	NotifyError string     `json:"notifyError,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
}

// DeadLetterEntry records a job that exhausted its attempt budget.
type DeadLetterEntry struct {
	JobID       string          `json:"job_id"`
	Payload     json.RawMessage `json:"payload"`
	LastError   string          `json:"last_error"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	FailedAt    time.Time       `json:"failed_at"`
}

// ProviderDescriptor describes one capability provider. Built once at startup.
type ProviderDescriptor struct {
	Name       string     `json:"name"`
	Capability Capability `json:"capability"`
	Priority   int        `json:"priority"`
	Available  bool       `json:"available"`
}

// API request/response types

type CreateGreetingRequest struct {
	FormFields
	EmailDomain string `json:"emailDomain,omitempty"`
}

type GreetingResponse struct {
	VideoID   string     `json:"videoId"`
	Status    JobStatus  `json:"status"`
	Attempt   int        `json:"attempt"`
	VideoURL  string     `json:"videoUrl,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt,omitempty"`
	FailedAt  *time.Time `json:"failedAt,omitempty"`
}

// ToResponse hides fields clients should not see, such as the form body.
func (j *Job) ToResponse() GreetingResponse {
	return GreetingResponse{
		VideoID:   j.VideoID,
		Status:    j.Status,
		Attempt:   j.Attempt,
		VideoURL:  j.VideoURL,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
		FailedAt:  j.FailedAt,
	}
}
