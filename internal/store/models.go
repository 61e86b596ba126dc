package store

import "time"

// Setting is one durable key/value pair.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Activation records one attempt to switch the active mirror.
type Activation struct {
	ID           int64
	EpochID      string // uuid of the activation epoch this attempt opened
	RemoteURL    string
	CatalogURL   string
	Status       string // "success", "noop", "failed"
	ErrorMessage string
	StartTime    time.Time
	EndTime      time.Time
}
