package session

import "time"

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "chatbot"
)

// Message represents a single chat message. Text mutates in place while an
// exchange is streaming and is immutable once the exchange completes.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// Thread is the client-side view of a server session. Title is a local-only
// convenience label and is not persisted server-side.
type Thread struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Preview      string
	MessageCount int
}
