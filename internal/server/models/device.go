package models

import "time"

// Device is a paired companion. The bearer token itself is never stored,
// only its SHA-256 hash.
type Device struct {
	ID          string
	ProfileID   string
	Name        string
	Model       string
	Platform    string
	TokenHash   string
	Access      string
	Fingerprint string
	PairedAt    time.Time
	LastSeen    time.Time
}
