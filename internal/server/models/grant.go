package models

import "time"

// Grant lets the grantee profile (and its paired devices) see the granter's
// data at the given access level.
type Grant struct {
	GranterID string
	GranteeID string
	Access    string
	GrantedAt time.Time
}
