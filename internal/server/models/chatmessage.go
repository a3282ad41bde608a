package models

import "time"

// ChatMessage is the referencing side of the retention cascade: when an
// attachment expires, the message keeps existing with its attachment fields
// cleared and a placeholder body instead of a dangling link.
type ChatMessage struct {
	ID             string
	ChatID         string
	SenderID       string
	Content        string
	AttachmentURL  string
	AttachmentName string
	AttachmentSize int64
	CreatedAt      time.Time
}

// ExpiredMediaPlaceholder replaces the body of a message whose attachment
// passed its retention window.
const ExpiredMediaPlaceholder = "Media expired"
