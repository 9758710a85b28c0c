package model

import (
	"time"

	"github.com/google/uuid"
)

type ConversationID string

// NewConversationID generates a new unique ConversationID
func NewConversationID() ConversationID {
	return ConversationID(uuid.New().String())
}

// Conversation is the metadata of an agent chat session
type Conversation struct {
	ID        ConversationID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Full messages are kept in object storage, not in the repository
	Messages []*Message `firestore:"-" json:"-"`
}

type RecordID string

// NewRecordID generates a new unique RecordID
func NewRecordID() RecordID {
	return RecordID(uuid.New().String())
}

// Record is a single stored line of conversation text
type Record struct {
	ID             RecordID
	ConversationID ConversationID
	Role           Role
	Content        string
	CreatedAt      time.Time
}
