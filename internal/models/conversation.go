package models

import "time"

// Conversation lifecycle statuses as the remote service names them.
const (
	StatusAguardando  = "aguardando"
	StatusEmAndamento = "em_andamento"
	StatusFinalizada  = "finalizada"
	StatusArquivada   = "arquivada"
)

// ValidStatus reports whether s is one of the known lifecycle statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusAguardando, StatusEmAndamento, StatusFinalizada, StatusArquivada:
		return true
	}
	return false
}

// ConversationSnapshot is the full remote state of one conversation.
// Snapshots are replaced wholesale on every fetch; fields are never
// merged across fetches.
type ConversationSnapshot struct {
	ID          string    `json:"_id"`
	Status      string    `json:"status"`
	SectorID    string    `json:"sectorId,omitempty"`
	AttendantID string    `json:"attendantId,omitempty"`
	ClientName  string    `json:"clientName,omitempty"`
	ClientPhone string    `json:"clientPhone,omitempty"`
	Archived    bool      `json:"archived"`
	Messages    []Message `json:"messages,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
