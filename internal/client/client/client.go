package client

import (
	"context"

	"github.com/dmitrijs2005/vitalink/internal/control"
)

// Client is what the CLI needs from the daemon.
type Client interface {
	Close() error

	Unlock(ctx context.Context, name string, passphrase []byte) (*control.UnlockResult, error)
	Lock(ctx context.Context) error
	Status(ctx context.Context) (*control.Status, error)

	StartServer(ctx context.Context, name string) (*control.Server, error)
	StopServer(ctx context.Context, name string) error

	StartPairing(ctx context.Context) (*control.Offer, error)
	PairingStatus(ctx context.Context) (*control.Pairing, error)
	ApprovePairing(ctx context.Context, sessionID, access string) (*control.Device, error)
	DenyPairing(ctx context.Context, sessionID string) error
	CancelPairing(ctx context.Context) error

	ListDevices(ctx context.Context) ([]control.Device, error)
	UnpairDevice(ctx context.Context, deviceID string) error
	DeviceCount(ctx context.Context) (int, error)
	InactiveDevices(ctx context.Context, days int) ([]control.Device, error)

	GrantAccess(ctx context.Context, grantee, access string) error
	RevokeGrant(ctx context.Context, grantee string) error
	ListGrants(ctx context.Context) (*control.Grants, error)

	RotateCertificate(ctx context.Context) (string, error)
}
