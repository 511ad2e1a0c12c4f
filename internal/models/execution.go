package models

import "time"

// Execution records a process deployed and executed on a remote backend.
type Execution struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	RemoteBackend   string `gorm:"size:64;not null;index"`
	Process         string `gorm:"size:256;not null"`
	RemoteProcessID string `gorm:"size:256"`
	User            string `gorm:"size:128;index"`
	Status          int
	CreatedAt       time.Time
}
