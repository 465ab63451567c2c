package model

import (
	"time"
)

// SaveState is the display status of the auto-save manager
type SaveState string

const (
	SaveStateIdle    SaveState = "idle"
	SaveStateSaving  SaveState = "saving"
	SaveStateSaved   SaveState = "saved"
	SaveStateError   SaveState = "error"
	SaveStateOffline SaveState = "offline"
)

// SaveData is one versioned snapshot of editor content
type SaveData struct {
	Content   string `json:"content"`
	ProjectID string `json:"projectId,omitempty"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	Version   int    `json:"version"`
}

// SaveStatus is the observable state of the auto-save manager
type SaveStatus struct {
	Status           SaveState  `json:"status"`
	LastSaved        *time.Time `json:"last_saved,omitempty"`
	Error            string     `json:"error,omitempty"`
	PendingChanges   bool       `json:"pending_changes"`
	RetriesRemaining int        `json:"retries_remaining"`
}

// SaveRequest is the body of an auto-save call from the editor
type SaveRequest struct {
	Content      string `json:"content"`
	ProjectID    string `json:"project_id"`
	Immediate    bool   `json:"immediate"`
	SkipDebounce bool   `json:"skip_debounce"`
	RetryOnError *bool  `json:"retry_on_error"`
}

// NetworkRequest lets the editor report its connectivity
type NetworkRequest struct {
	Online *bool `json:"online" binding:"required"`
}
