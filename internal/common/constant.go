package common

// DeviceTokenHeaderName carries the rotated bearer token on every
// authenticated SecureApiServer response.
const DeviceTokenHeaderName = "X-Device-Token"

// Access levels shared by devices and grants.
const (
	AccessFull     = "full"
	AccessReadOnly = "read_only"
)

// ValidAccessLevel reports whether level is one of the known access levels.
func ValidAccessLevel(level string) bool {
	return level == AccessFull || level == AccessReadOnly
}

// LowerAccess returns the more restrictive of two access levels.
func LowerAccess(a, b string) string {
	if a == AccessReadOnly || b == AccessReadOnly {
		return AccessReadOnly
	}
	return AccessFull
}

// Server names known to the supervisor.
const (
	ServerDistribution = "distribution"
	ServerSecureAPI    = "secure_api"
	ServerTransfer     = "transfer"
)
