package models

import (
	"fmt"
	"time"
)

// MemoryEntry is a note an agent stored for later recall within a session.
type MemoryEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// String renders the entry as "<created_at>: <content>".
func (m MemoryEntry) String() string {
	return fmt.Sprintf("%s: %s", m.CreatedAt.UTC().Format(time.RFC3339), m.Content)
}
