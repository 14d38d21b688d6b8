package models

import "time"

// Block records that BlockerID no longer wants contact with BlockedID. The
// pair is unique.
type Block struct {
	BlockerID string    `gorm:"primaryKey;size:36" json:"blocker_id"`
	BlockedID string    `gorm:"primaryKey;size:36" json:"blocked_id"`
	Blocker   *User     `gorm:"foreignKey:BlockerID" json:"-"`
	Blocked   *User     `gorm:"foreignKey:BlockedID" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
