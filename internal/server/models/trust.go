package models

import "time"

// TrustMaterial is the persisted certificate of a profile. SealedKey is the
// PKCS#8 private key sealed with AES-GCM (nonce prefixed).
type TrustMaterial struct {
	ProfileID string
	CertDER   []byte
	SealedKey []byte
	NotAfter  time.Time
	CreatedAt time.Time
	ResetAt   *time.Time
}
