package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/client/client"
	"github.com/dmitrijs2005/vitalink/internal/client/companion"
	"github.com/dmitrijs2005/vitalink/internal/client/config"
	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/control"
	"github.com/dmitrijs2005/vitalink/internal/server/pairing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*************
 * Fake control client
 *************/

type fakeClient struct {
	mu sync.Mutex

	unlockName string
	unlockPass string
	unlockErr  error
	locked     bool
	closed     bool

	started string
	stopped string

	pairingStates []string
	device        *control.DeviceInfo
	approved      control.ApproveRequest
	denied        string
	cancelled     bool

	devices   []control.Device
	unpaired  string
	days      int
	granted   control.GrantRequest
	revoked   string
	rotatedFP string
}

var _ client.Client = (*fakeClient)(nil)

func (f *fakeClient) Close() error { f.closed = true; return nil }

func (f *fakeClient) Unlock(_ context.Context, name string, passphrase []byte) (*control.UnlockResult, error) {
	f.unlockName, f.unlockPass = name, string(passphrase)
	if f.unlockErr != nil {
		return nil, f.unlockErr
	}
	return &control.UnlockResult{
		Profile:     control.Profile{ID: "p1", Name: name, Fingerprint: "aa:bb"},
		Created:     true,
		Started:     []string{common.ServerDistribution},
		StartErrors: map[string]string{common.ServerSecureAPI: "address in use"},
	}, nil
}

func (f *fakeClient) Lock(context.Context) error { f.locked = true; return nil }

func (f *fakeClient) Status(context.Context) (*control.Status, error) {
	return &control.Status{
		Profile: &control.Profile{ID: "p1", Name: "alice", Fingerprint: "aa:bb", UnlockedAt: time.Now()},
		Servers: []control.Server{
			{Name: common.ServerDistribution, Running: true, Addr: "0.0.0.0:47610", Requests: 12},
			{Name: common.ServerSecureAPI, Running: false},
		},
		Pairing: control.Pairing{State: "idle"},
	}, nil
}

func (f *fakeClient) StartServer(_ context.Context, name string) (*control.Server, error) {
	f.started = name
	return &control.Server{Name: name, Running: true, Addr: "0.0.0.0:47630", Details: map[string]string{"pin": "123456"}}, nil
}

func (f *fakeClient) StopServer(_ context.Context, name string) error {
	f.stopped = name
	return nil
}

func (f *fakeClient) StartPairing(context.Context) (*control.Offer, error) {
	return &control.Offer{SessionID: "s1", Payload: "vitalink-pair-payload", PNG: []byte("png"), ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (f *fakeClient) PairingStatus(context.Context) (*control.Pairing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "awaiting_scan"
	if len(f.pairingStates) > 0 {
		state = f.pairingStates[0]
		if len(f.pairingStates) > 1 {
			f.pairingStates = f.pairingStates[1:]
		}
	}
	return &control.Pairing{State: state, SessionID: "s1", Device: f.device}, nil
}

func (f *fakeClient) ApprovePairing(_ context.Context, sessionID, access string) (*control.Device, error) {
	f.approved = control.ApproveRequest{SessionID: sessionID, Access: access}
	return &control.Device{ID: "d1", Name: "Pixel", Access: access}, nil
}

func (f *fakeClient) DenyPairing(_ context.Context, sessionID string) error {
	f.denied = sessionID
	return nil
}

func (f *fakeClient) CancelPairing(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	return nil
}

func (f *fakeClient) ListDevices(context.Context) ([]control.Device, error) { return f.devices, nil }

func (f *fakeClient) UnpairDevice(_ context.Context, deviceID string) error {
	f.unpaired = deviceID
	return nil
}

func (f *fakeClient) DeviceCount(context.Context) (int, error) { return len(f.devices), nil }

func (f *fakeClient) InactiveDevices(_ context.Context, days int) ([]control.Device, error) {
	f.days = days
	return nil, nil
}

func (f *fakeClient) GrantAccess(_ context.Context, grantee, access string) error {
	f.granted = control.GrantRequest{Grantee: grantee, Access: access}
	return nil
}

func (f *fakeClient) RevokeGrant(_ context.Context, grantee string) error {
	f.revoked = grantee
	return nil
}

func (f *fakeClient) ListGrants(context.Context) (*control.Grants, error) {
	return &control.Grants{
		Given: []control.Grant{{GranterID: "p1", GranteeID: "p2", Access: common.AccessReadOnly, GrantedAt: time.Now()}},
	}, nil
}

func (f *fakeClient) RotateCertificate(context.Context) (string, error) { return f.rotatedFP, nil }

/*************
 * Fake device
 *************/

type fakeDevice struct {
	creds      companion.Credentials
	sessionErr error
	unpairErr  error
	unpaired   bool
}

func (d *fakeDevice) Session(context.Context) (*companion.Session, error) {
	d.creds.Token = "rotated"
	if d.sessionErr != nil {
		return nil, d.sessionErr
	}
	return &companion.Session{
		DeviceID: d.creds.DeviceID,
		Name:     "Pixel",
		Access:   d.creds.Access,
		Profiles: []companion.Profile{{ID: "p1", Name: "alice", Access: common.AccessFull, Own: true}},
	}, nil
}

func (d *fakeDevice) Unpair(context.Context) error {
	d.unpaired = true
	return d.unpairErr
}

func (d *fakeDevice) Credentials() companion.Credentials { return d.creds }

/*************
 * Helpers
 *************/

func useFakeClient(t *testing.T, f *fakeClient) {
	t.Helper()
	old := dialControl
	t.Cleanup(func() { dialControl = old })
	dialControl = func(*config.Config) (client.Client, error) { return f, nil }
}

func stubPassword(t *testing.T, pw string) {
	t.Helper()
	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) { return []byte(pw), nil }
}

// fastConfig writes a config file with a short poll interval.
func fastConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"poll_interval":"5ms","timeout":"1s"}`), 0o600))
	return path
}

func run(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := Execute(ctx, args, strings.NewReader(input), &out)
	return out.String(), err
}

func validPayload(t *testing.T) string {
	t.Helper()
	text, err := pairing.Payload{
		V:     pairing.PayloadVersion,
		Addr:  "192.168.1.10",
		Port:  47620,
		Token: strings.Repeat("ab", 32),
		FP:    strings.Repeat("cd", 32),
		Exp:   time.Now().Add(time.Minute).Unix(),
	}.Encode()
	require.NoError(t, err)
	return text
}

/*************
 * Tests
 *************/

func TestUnlockCommand(t *testing.T) {
	f := &fakeClient{}
	useFakeClient(t, f)
	stubPassword(t, "secret")

	out, err := run(t, "", "unlock", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", f.unlockName)
	assert.Equal(t, "secret", f.unlockPass)
	assert.True(t, f.closed)
	assert.Contains(t, out, "Created profile alice")
	assert.Contains(t, out, "Certificate fingerprint: aa:bb")
	assert.Contains(t, out, "Started: distribution")
	assert.Contains(t, out, "Failed to start secure_api: address in use")
}

func TestUnlockCommand_Errors(t *testing.T) {
	f := &fakeClient{unlockErr: common.ErrorUnauthorized}
	useFakeClient(t, f)
	stubPassword(t, "wrong")

	_, err := run(t, "", "unlock", "alice")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = run(t, "", "unlock")
	assert.Error(t, err, "profile name is required")
}

func TestUnavailableDaemonHint(t *testing.T) {
	old := dialControl
	t.Cleanup(func() { dialControl = old })
	f := &fakeClient{}
	dialControl = func(*config.Config) (client.Client, error) {
		return unavailableClient{f}, nil
	}

	_, err := run(t, "", "--addr", "127.0.0.1:1", "lock")
	require.ErrorIs(t, err, client.ErrUnavailable)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

type unavailableClient struct{ *fakeClient }

func (unavailableClient) Lock(context.Context) error { return client.ErrUnavailable }

func TestLockStatusRotate(t *testing.T) {
	f := &fakeClient{rotatedFP: "cc:dd"}
	useFakeClient(t, f)

	out, err := run(t, "", "lock")
	require.NoError(t, err)
	assert.True(t, f.locked)
	assert.Contains(t, out, "Profile locked")

	out, err = run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile: alice (p1)")
	assert.Contains(t, out, "distribution")
	assert.Contains(t, out, "0.0.0.0:47610")
	assert.Contains(t, out, "stopped")
	assert.Contains(t, out, "Pairing: idle")

	out, err = run(t, "", "rotate-cert")
	require.NoError(t, err)
	assert.Contains(t, out, "cc:dd")
}

func TestServerCommands(t *testing.T) {
	f := &fakeClient{}
	useFakeClient(t, f)

	out, err := run(t, "", "server", "start", common.ServerTransfer)
	require.NoError(t, err)
	assert.Equal(t, common.ServerTransfer, f.started)
	assert.Contains(t, out, "http://0.0.0.0:47630")
	assert.Contains(t, out, "Upload PIN: 123456")

	_, err = run(t, "", "server", "stop", common.ServerTransfer)
	require.NoError(t, err)
	assert.Equal(t, common.ServerTransfer, f.stopped)
}

func TestPairCommand_Approve(t *testing.T) {
	f := &fakeClient{
		pairingStates: []string{"awaiting_scan", "connecting", "awaiting_approval"},
		device:        &control.DeviceInfo{Name: "Pixel", Model: "7", Platform: "android"},
	}
	useFakeClient(t, f)

	out, err := run(t, "r\n", "-c", fastConfig(t), "pair")
	require.NoError(t, err)
	assert.Contains(t, out, "vitalink device pair --payload 'vitalink-pair-payload'")
	assert.Contains(t, out, `Device "Pixel" (7, android) wants to pair.`)
	assert.Equal(t, control.ApproveRequest{SessionID: "s1", Access: common.AccessReadOnly}, f.approved)
	assert.Contains(t, out, "Paired Pixel as d1 with read_only access")
}

func TestPairCommand_DenyAndYes(t *testing.T) {
	f := &fakeClient{pairingStates: []string{"awaiting_approval"}}
	useFakeClient(t, f)

	out, err := run(t, "n\n", "-c", fastConfig(t), "pair")
	require.NoError(t, err)
	assert.Equal(t, "s1", f.denied)
	assert.Contains(t, out, "Pairing denied")

	f2 := &fakeClient{pairingStates: []string{"awaiting_approval"}}
	useFakeClient(t, f2)
	png := filepath.Join(t.TempDir(), "qr.png")
	_, err = run(t, "", "-c", fastConfig(t), "pair", "--yes", "--png", png)
	require.NoError(t, err)
	assert.Equal(t, common.AccessFull, f2.approved.Access)
	b, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), b)
}

func TestPairCommand_EndStates(t *testing.T) {
	tests := []struct {
		state string
		want  error
	}{
		{"expired", common.ErrPairingExpired},
		{"denied", common.ErrPairingDenied},
		{"idle", common.ErrPairingCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			f := &fakeClient{pairingStates: []string{"awaiting_scan", tt.state}}
			useFakeClient(t, f)
			_, err := run(t, "", "-c", fastConfig(t), "pair")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	f := &fakeClient{}
	useFakeClient(t, f)
	_, err := run(t, "", "pair", "--access", "admin")
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestPairCommand_CancelOnContextEnd(t *testing.T) {
	f := &fakeClient{}
	useFakeClient(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var out bytes.Buffer
	err := Execute(ctx, []string{"-c", fastConfig(t), "pair"}, strings.NewReader(""), &out)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.True(t, f.cancelled)
}

func TestDevicesAndGrantsCommands(t *testing.T) {
	f := &fakeClient{devices: []control.Device{
		{ID: "d1", Name: "Pixel", Platform: "android", Access: common.AccessFull, PairedAt: time.Now(), LastSeen: time.Now()},
	}}
	useFakeClient(t, f)

	out, err := run(t, "", "devices")
	require.NoError(t, err)
	assert.Contains(t, out, "Pixel")

	out, err = run(t, "", "devices", "count")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run(t, "", "devices", "inactive", "--days", "45")
	require.NoError(t, err)
	assert.Equal(t, 45, f.days)
	assert.Contains(t, out, "No devices")

	_, err = run(t, "", "devices", "unpair", "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", f.unpaired)

	_, err = run(t, "", "grant", "p2")
	require.NoError(t, err)
	assert.Equal(t, control.GrantRequest{Grantee: "p2", Access: common.AccessReadOnly}, f.granted)

	_, err = run(t, "", "grant", "p2", "--access", "owner")
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = run(t, "", "revoke", "p2")
	require.NoError(t, err)
	assert.Equal(t, "p2", f.revoked)

	out, err = run(t, "", "grants")
	require.NoError(t, err)
	assert.Contains(t, out, "Given:")
	assert.Contains(t, out, "p2")
	assert.Contains(t, out, "Received:\n  none")
}

func TestDevicePairStatusUnpair(t *testing.T) {
	credsPath := filepath.Join(t.TempDir(), "device.json")
	dev := &fakeDevice{creds: companion.Credentials{
		BaseURL:     "https://192.168.1.10:47620",
		DeviceID:    "d1",
		ProfileID:   "p1",
		Token:       "first",
		Fingerprint: strings.Repeat("cd", 32),
		Access:      common.AccessFull,
	}}

	oldPair, oldResume := pairDevice, resumeDevice
	t.Cleanup(func() { pairDevice, resumeDevice = oldPair, oldResume })
	var gotInfo companion.DeviceInfo
	pairDevice = func(_ context.Context, p *pairing.Payload, info companion.DeviceInfo) (Device, error) {
		gotInfo = info
		assert.Equal(t, 47620, p.Port)
		return dev, nil
	}
	resumeDevice = func(creds companion.Credentials) Device {
		dev.creds = creds
		return dev
	}

	out, err := run(t, "", "--credentials", credsPath, "device", "pair", "--payload", validPayload(t), "--name", "Pixel", "--platform", "android")
	require.NoError(t, err)
	assert.Equal(t, companion.DeviceInfo{Name: "Pixel", Model: "cli", Platform: "android"}, gotInfo)
	assert.Contains(t, out, "Paired as device d1")
	saved, err := companion.LoadCredentials(credsPath)
	require.NoError(t, err)
	assert.Equal(t, "first", saved.Token)

	out, err = run(t, "", "--credentials", credsPath, "device", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "profile p1 alice: full (own)")
	saved, err = companion.LoadCredentials(credsPath)
	require.NoError(t, err)
	assert.Equal(t, "rotated", saved.Token)

	out, err = run(t, "", "--credentials", credsPath, "device", "unpair")
	require.NoError(t, err)
	assert.True(t, dev.unpaired)
	assert.Contains(t, out, "Device unpaired")
	_, err = companion.LoadCredentials(credsPath)
	assert.ErrorIs(t, err, companion.ErrNotPaired)
}

func TestDeviceStatus_RepairForgetsCredentials(t *testing.T) {
	credsPath := filepath.Join(t.TempDir(), "device.json")
	require.NoError(t, companion.SaveCredentials(credsPath, companion.Credentials{
		BaseURL: "https://192.168.1.10:47620", Token: "t", Fingerprint: "fp",
	}))

	old := resumeDevice
	t.Cleanup(func() { resumeDevice = old })
	resumeDevice = func(creds companion.Credentials) Device {
		return &fakeDevice{creds: creds, sessionErr: &companion.APIError{Status: 401, Code: "unauthorized", Repair: true}}
	}

	_, err := run(t, "", "--credentials", credsPath, "device", "status")
	require.ErrorIs(t, err, companion.ErrRepairRequired)
	_, err = companion.LoadCredentials(credsPath)
	assert.ErrorIs(t, err, companion.ErrNotPaired)
}

func TestDevicePair_InputErrors(t *testing.T) {
	credsPath := filepath.Join(t.TempDir(), "device.json")

	_, err := run(t, "", "--credentials", credsPath, "device", "pair")
	assert.Error(t, err)

	_, err = run(t, "", "--credentials", credsPath, "device", "pair", "--payload", "garbage")
	assert.ErrorIs(t, err, common.ErrPairingTokenInvalid)

	_, err = run(t, "", "--credentials", credsPath, "device", "status")
	assert.ErrorIs(t, err, companion.ErrNotPaired)
}

func TestConfigFlags(t *testing.T) {
	var got *config.Config
	old := dialControl
	t.Cleanup(func() { dialControl = old })
	dialControl = func(cfg *config.Config) (client.Client, error) {
		got = cfg
		return &fakeClient{}, nil
	}

	_, err := run(t, "", "-c", fastConfig(t), "--addr", "127.0.0.1:9999", "--timeout", "3s", "lock")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "127.0.0.1:9999", got.ControlAddr)
	assert.Equal(t, 3*time.Second, got.Timeout)
	assert.Equal(t, 5*time.Millisecond, got.PollInterval)

	_, err = run(t, "", "--timeout", "soon", "lock")
	assert.Error(t, err)
}
