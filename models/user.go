package models

import "time"

type User struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Username  string    `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	AvatarURL string    `gorm:"size:500" json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the public subset of a user that travels with messages.
type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func (u *User) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}
