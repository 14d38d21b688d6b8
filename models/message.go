package models

import "time"

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

type Message struct {
	ID           string        `gorm:"primaryKey;size:36" json:"id"`
	ChatID       string        `gorm:"size:36;index;not null" json:"chat_id"`
	SenderID     string        `gorm:"size:36;index;not null" json:"sender_id"`
	Sender       *User         `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Content      string        `gorm:"type:text;not null;default:''" json:"content"`
	MessageType  MessageType   `gorm:"size:10;not null;default:text" json:"message_type"`
	ImageURL     string        `gorm:"size:500" json:"image_url,omitempty"`
	CreatedAt    time.Time     `gorm:"index" json:"created_at"`
	ReadReceipts []ReadReceipt `gorm:"foreignKey:MessageID" json:"read_receipts"`
}

// ReadBy reports whether userID already has a receipt for the message.
func (m *Message) ReadBy(userID string) bool {
	for _, rr := range m.ReadReceipts {
		if rr.UserID == userID {
			return true
		}
	}
	return false
}

type ReadReceipt struct {
	MessageID string    `gorm:"primaryKey;size:36" json:"message_id"`
	UserID    string    `gorm:"primaryKey;size:36" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ReadAt    time.Time `json:"read_at"`
}
