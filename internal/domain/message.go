package domain

import "time"

// MessageKind tags an entry of the per-session message log.
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageEmoji  MessageKind = "emoji"
	MessageFile   MessageKind = "file"
	MessageSystem MessageKind = "system"
)

// SystemSenderID is used for log entries the server writes itself.
const SystemSenderID ConnID = "system"

// Message is one entry of the append-only log. Ordering is arrival order
// at the relay; there is no cross-session ordering guarantee.
//
// For file messages the log stores metadata only: Content is cleared
// before append, the binary payload is relayed but never retained.
type Message struct {
	SenderID   ConnID      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Kind       MessageKind `json:"kind"`
	Content    string      `json:"content"`
	FileName   string      `json:"fileName,omitempty"`
	FileSize   int64       `json:"fileSize,omitempty"`
	FileType   string      `json:"fileType,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// SystemMessage builds a server-authored log entry.
func SystemMessage(content string) Message {
	return Message{
		SenderID:   SystemSenderID,
		SenderName: "System",
		Kind:       MessageSystem,
		Content:    content,
		Timestamp:  time.Now(),
	}
}
