package models

import "time"

// Record is one synced document. Payload is opaque JSON; Version is taken
// from the owning profile's monotonic counter on every write.
type Record struct {
	ID         string
	ProfileID  string
	Collection string
	Payload    []byte
	Version    int64
	Deleted    bool
	UpdatedAt  time.Time
}
