package model

import "time"

// Member stores group membership and chat delivery metadata for a user.
type Member struct {
	ID             string `gorm:"primaryKey"`
	GroupID        string `gorm:"index"`
	DisplayName    string
	TelegramChatID int64 `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FileRef registers an uploaded file with its owning group. The lifecycle
// engine only consults it to satisfy attachment requirements; storage itself
// lives elsewhere.
type FileRef struct {
	ID         string `gorm:"primaryKey"`
	GroupID    string `gorm:"index"`
	Name       string
	UploaderID string
	CreatedAt  time.Time
}
