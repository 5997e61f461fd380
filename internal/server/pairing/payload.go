package pairing

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/skip2/go-qrcode"
)

// PayloadVersion is the only QR payload version understood.
const PayloadVersion = 1

// Payload is the content of the pairing QR code.
type Payload struct {
	V     int    `json:"v"`
	Addr  string `json:"addr"`
	Port  int    `json:"port"`
	Token string `json:"token"`
	FP    string `json:"fp"`
	Exp   int64  `json:"exp"`
}

// ExpiresAt converts Exp (unix seconds) to a time.
func (p Payload) ExpiresAt() time.Time {
	return time.Unix(p.Exp, 0)
}

// BaseURL is the secure API origin the device should talk to.
func (p Payload) BaseURL() string {
	return "https://" + net.JoinHostPort(p.Addr, strconv.Itoa(p.Port))
}

func (p Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParsePayload decodes and validates a scanned QR text.
func ParsePayload(text string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrPairingTokenInvalid, err)
	}
	if p.V != PayloadVersion {
		return nil, fmt.Errorf("%w: unsupported payload version %d", common.ErrPairingTokenInvalid, p.V)
	}
	if p.Addr == "" || p.Port <= 0 || p.Port > 65535 {
		return nil, fmt.Errorf("%w: bad address", common.ErrPairingTokenInvalid)
	}
	if !isHex(p.Token, 64) || !isHex(p.FP, 64) {
		return nil, fmt.Errorf("%w: bad token or fingerprint", common.ErrPairingTokenInvalid)
	}
	if p.Exp <= 0 {
		return nil, fmt.Errorf("%w: missing expiry", common.ErrPairingTokenInvalid)
	}
	return &p, nil
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// RenderPNG draws text as a QR code PNG of size pixels.
func RenderPNG(text string, size int) ([]byte, error) {
	return qrcode.Encode(text, qrcode.Medium, size)
}

// RenderTerminal draws the QR with half-block characters for a terminal.
func RenderTerminal(text string) (string, error) {
	q, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
