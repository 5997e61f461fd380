package models

import "time"

type Profile struct {
	ID             string
	Name           string
	Salt           []byte
	Verifier       []byte
	CurrentVersion int64
	CreatedAt      time.Time
}
