package models

import "time"

type Chat struct {
	ID            string            `gorm:"primaryKey;size:36" json:"id"`
	Name          string            `gorm:"size:100" json:"name,omitempty"`
	IsGroup       bool              `gorm:"not null;default:false" json:"is_group"`
	LastMessageAt time.Time         `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time         `json:"created_at"`
	Participants  []ChatParticipant `gorm:"foreignKey:ChatID" json:"participants,omitempty"`

	// LastMessage is filled by chat listings; it is not a column.
	LastMessage *Message `gorm:"-" json:"last_message,omitempty"`
}

// HasParticipant reports whether userID is among the loaded participants.
func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

type ChatParticipant struct {
	ChatID   string    `gorm:"primaryKey;size:36" json:"chat_id"`
	UserID   string    `gorm:"primaryKey;size:36;index" json:"user_id"`
	User     *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}
