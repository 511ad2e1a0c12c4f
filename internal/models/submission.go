package models

import "time"

// Submission records a pull request opened on behalf of a catalog user.
type Submission struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	PRNumber   int    `gorm:"uniqueIndex;not null"`
	URL        string `gorm:"size:512"`
	Branch     string `gorm:"size:128"`
	Filename   string `gorm:"size:256;not null"`
	ItemType   string `gorm:"size:64"`
	ChangeType string `gorm:"size:16;not null"`
	User       string `gorm:"size:128;not null;index"`
	DataOwner  bool   `gorm:"default:false"`
	State      string `gorm:"size:16;default:Pending;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
