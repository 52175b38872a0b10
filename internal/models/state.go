package models

import "time"

// ConnectionState is the cached result of the last remote health probe.
// Written only by the connection monitor, read by the queue and the UI.
type ConnectionState struct {
	Online        bool      `json:"online"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	LastError     string    `json:"last_error,omitempty"`
}
