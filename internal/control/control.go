// Package control describes the loopback control service shared by the
// daemon and the CLI. The service uses only protobuf well-known types:
// structured payloads travel as google.protobuf.Struct and are converted
// to and from the view types below through their JSON form.
package control

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "vitalink.control.v1.Control"

const (
	MethodUnlock            = "Unlock"
	MethodLock              = "Lock"
	MethodStatus            = "Status"
	MethodStartServer       = "StartServer"
	MethodStopServer        = "StopServer"
	MethodStartPairing      = "StartPairing"
	MethodPairingStatus     = "PairingStatus"
	MethodApprovePairing    = "ApprovePairing"
	MethodDenyPairing       = "DenyPairing"
	MethodCancelPairing     = "CancelPairing"
	MethodListDevices       = "ListDevices"
	MethodUnpairDevice      = "UnpairDevice"
	MethodDeviceCount       = "DeviceCount"
	MethodInactiveDevices   = "InactiveDevices"
	MethodGrantAccess       = "GrantAccess"
	MethodRevokeGrant       = "RevokeGrant"
	MethodListGrants        = "ListGrants"
	MethodRotateCertificate = "RotateCertificate"
)

// FullMethod is the gRPC path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Encode converts a view into a Struct.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return s, nil
}

// Decode fills v from a Struct.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

type UnlockRequest struct {
	Name       string `json:"name"`
	Passphrase string `json:"passphrase"`
}

type Profile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	UnlockedAt  time.Time `json:"unlocked_at"`
}

type UnlockResult struct {
	Profile     Profile           `json:"profile"`
	Created     bool              `json:"created"`
	Started     []string          `json:"started,omitempty"`
	StartErrors map[string]string `json:"start_errors,omitempty"`
}

type Server struct {
	Name      string            `json:"name"`
	Running   bool              `json:"running"`
	Addr      string            `json:"addr,omitempty"`
	TLS       bool              `json:"tls"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	Requests  int64             `json:"requests"`
	Details   map[string]string `json:"details,omitempty"`
}

type DeviceInfo struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Platform string `json:"platform"`
}

type Pairing struct {
	State     string      `json:"state"`
	SessionID string      `json:"session_id,omitempty"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	Device    *DeviceInfo `json:"device,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type Status struct {
	Profile *Profile `json:"profile,omitempty"`
	Servers []Server `json:"servers"`
	Pairing Pairing  `json:"pairing"`
}

// Offer carries the QR payload text; PNG is base64 on the wire.
type Offer struct {
	SessionID string    `json:"session_id"`
	Payload   string    `json:"payload"`
	PNG       []byte    `json:"png,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ApproveRequest struct {
	SessionID string `json:"session_id"`
	Access    string `json:"access"`
}

type Device struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Model       string    `json:"model"`
	Platform    string    `json:"platform"`
	Access      string    `json:"access"`
	Fingerprint string    `json:"fingerprint"`
	PairedAt    time.Time `json:"paired_at"`
	LastSeen    time.Time `json:"last_seen"`
}

type DeviceList struct {
	Devices []Device `json:"devices"`
}

type GrantRequest struct {
	Grantee string `json:"grantee"`
	Access  string `json:"access"`
}

type Grant struct {
	GranterID string    `json:"granter_id"`
	GranteeID string    `json:"grantee_id"`
	Access    string    `json:"access"`
	GrantedAt time.Time `json:"granted_at"`
}

type Grants struct {
	Given    []Grant `json:"given"`
	Received []Grant `json:"received"`
}
