// Package auth issues and verifies short-lived HS256 tickets. Pairing uses
// them between the connect and request steps, the transfer server after a
// correct PIN.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Ticket purposes.
const (
	PurposePairing  = "pairing"
	PurposeTransfer = "transfer"
)

// Claims carries the standard claims plus the purpose the ticket was
// issued for. Subject holds the session the ticket belongs to.
type Claims struct {
	jwt.RegisteredClaims
	Purpose string `json:"pur"`
}

// Signer holds an in-memory HMAC key. Tickets do not survive a restart.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a signer with a fresh random 256-bit key.
func NewSigner() *Signer {
	return &Signer{secret: common.GenerateRandByteArray(32), now: time.Now}
}

// Issue returns a signed ticket for subject and its unique id.
func (s *Signer) Issue(subject, purpose string, validity time.Duration) (token, id string, err error) {
	id, err = common.MakeRandHexString(16)
	if err != nil {
		return "", "", err
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Purpose: purpose,
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", err
	}
	return token, id, nil
}

// Verify parses token and checks signature, expiry and purpose.
// It returns common.ErrTokenExpired or common.ErrInvalidToken on failure.
func (s *Signer) Verify(token, purpose string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !parsed.Valid || claims.Purpose != purpose || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
