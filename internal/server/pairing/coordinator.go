// Package pairing runs the QR pairing handshake: one session at a time per
// profile, moving idle → generating → awaiting_scan → connecting →
// awaiting_approval and ending approved, denied, expired or in error.
package pairing

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/logging"
	"github.com/dmitrijs2005/vitalink/internal/server/auth"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"github.com/dmitrijs2005/vitalink/internal/server/registry"
	"github.com/dmitrijs2005/vitalink/internal/server/trust"
	"github.com/google/uuid"
)

type State string

const (
	StateIdle             State = "idle"
	StateGenerating       State = "generating"
	StateAwaitingScan     State = "awaiting_scan"
	StateConnecting       State = "connecting"
	StateAwaitingApproval State = "awaiting_approval"
	StateApproved         State = "approved"
	StateDenied           State = "denied"
	StateExpired          State = "expired"
	StateError            State = "error"
)

// Terminal reports whether no further transition is possible except the
// rollback of an undelivered approval.
func (s State) Terminal() bool {
	switch s {
	case StateApproved, StateDenied, StateExpired, StateError:
		return true
	}
	return false
}

// Enroller creates and removes devices. *registry.Registry implements it.
type Enroller interface {
	Enroll(ctx context.Context, profileID string, info registry.DeviceInfo, access, fingerprint string) (*models.Device, string, error)
	Unpair(ctx context.Context, deviceID string) error
}

// CertSource supplies the certificate whose fingerprint goes into the QR.
type CertSource interface {
	EnsureCertificate(ctx context.Context) (*trust.Certificate, error)
}

// EndpointFunc returns the host and port devices use to reach the secure API.
type EndpointFunc func(ctx context.Context) (host string, port int, err error)

// Offer is what StartPairing hands to the desktop UI.
type Offer struct {
	SessionID string
	Payload   Payload
	Text      string
	PNG       []byte
	ExpiresAt time.Time
}

// Approval is delivered to the device exactly once.
type Approval struct {
	DeviceID    string `json:"device_id"`
	ProfileID   string `json:"profile_id"`
	Token       string `json:"token"`
	Fingerprint string `json:"fingerprint"`
	Access      string `json:"access"`
}

// Status is a snapshot for the UI.
type Status struct {
	State     State
	SessionID string
	ExpiresAt time.Time
	Device    *registry.DeviceInfo
	Error     string
}

type Options struct {
	TTL       time.Duration
	TicketTTL time.Duration
	QRSize    int
}

type session struct {
	id        string
	token     []byte
	consumed  bool
	expiresAt time.Time
	fp        string
	state     State
	device    *registry.DeviceInfo
	ticketID  string
	approval  *Approval
	delivered bool
	err       error
	done      chan struct{}
	closed    bool
	timer     *time.Timer
}

func (s *session) finish(state State, err error) {
	s.state = state
	s.err = err
	if s.timer != nil && state != StateApproved {
		s.timer.Stop()
	}
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (s *session) burnToken() {
	common.WipeByteArray(s.token)
	s.token = nil
	s.consumed = true
}

type Coordinator struct {
	mu        sync.Mutex
	log       logging.Logger
	devices   Enroller
	certs     CertSource
	tickets   *auth.Signer
	endpoint  EndpointFunc
	opts      Options
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer

	profileID string
	sess      *session
}

func NewCoordinator(devices Enroller, certs CertSource, endpoint EndpointFunc, l logging.Logger, opts Options) *Coordinator {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.TicketTTL <= 0 {
		opts.TicketTTL = opts.TTL
	}
	if opts.QRSize <= 0 {
		opts.QRSize = 320
	}
	return &Coordinator{
		log:       l.With("module", "pairing"),
		devices:   devices,
		certs:     certs,
		tickets:   auth.NewSigner(),
		endpoint:  endpoint,
		opts:      opts,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Activate binds the coordinator to an unlocked profile.
func (c *Coordinator) Activate(profileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profileID = profileID
}

// Deactivate cancels any session and forgets the profile.
func (c *Coordinator) Deactivate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(ctx, common.ErrProfileLocked)
	c.profileID = ""
}

// StartPairing cancels any existing session and opens a new one.
func (c *Coordinator) StartPairing(ctx context.Context) (*Offer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.profileID == "" {
		return nil, common.ErrProfileLocked
	}
	c.cancelLocked(ctx, common.ErrPairingCancelled)

	s := &session{id: uuid.NewString(), state: StateGenerating, done: make(chan struct{})}
	c.sess = s

	offer, err := c.generateLocked(ctx, s)
	if err != nil {
		s.finish(StateError, err)
		c.log.Error(ctx, "pairing session could not be created", "session", s.id, "error", err)
		return nil, err
	}

	s.state = StateAwaitingScan
	id := s.id
	s.timer = c.afterFunc(c.opts.TTL, func() { c.expire(id) })

	c.log.Info(ctx, "pairing started", "session", s.id, "expires_at", s.expiresAt)
	return offer, nil
}

func (c *Coordinator) generateLocked(ctx context.Context, s *session) (*Offer, error) {
	cert, err := c.certs.EnsureCertificate(ctx)
	if err != nil {
		return nil, fmt.Errorf("certificate: %w", err)
	}
	host, port, err := c.endpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("secure endpoint: %w", err)
	}
	token, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, err
	}

	s.token = []byte(token)
	s.fp = cert.Fingerprint
	s.expiresAt = c.now().Add(c.opts.TTL)

	p := Payload{V: PayloadVersion, Addr: host, Port: port, Token: token, FP: cert.Fingerprint, Exp: s.expiresAt.Unix()}
	text, err := p.Encode()
	if err != nil {
		return nil, err
	}
	png, err := RenderPNG(text, c.opts.QRSize)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}

	return &Offer{SessionID: s.id, Payload: p, Text: text, PNG: png, ExpiresAt: s.expiresAt}, nil
}

// Connect redeems the one-time QR token and returns a pairing ticket for
// the following steps. A token works once; anything else is rejected with
// common.ErrPairingTokenInvalid or common.ErrPairingExpired.
func (c *Coordinator) Connect(ctx context.Context, token string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess
	if s == nil {
		return "", common.ErrPairingTokenInvalid
	}
	if s.state == StateExpired {
		return "", common.ErrPairingExpired
	}
	if s.consumed || s.state != StateAwaitingScan {
		return "", common.ErrPairingTokenInvalid
	}
	if subtle.ConstantTimeCompare([]byte(token), s.token) != 1 {
		c.log.Warn(ctx, "pairing token mismatch", "session", s.id)
		return "", common.ErrPairingTokenInvalid
	}
	if !c.now().Before(s.expiresAt) {
		c.expireLocked(ctx, s)
		return "", common.ErrPairingExpired
	}

	s.burnToken()
	ticket, jti, err := c.tickets.Issue(s.id, auth.PurposePairing, c.opts.TicketTTL)
	if err != nil {
		s.finish(StateError, err)
		return "", err
	}
	s.ticketID = jti
	s.state = StateConnecting

	c.log.Info(ctx, "pairing token redeemed", "session", s.id)
	return ticket, nil
}

// sessionForTicket resolves a ticket to the current session. Tickets of
// replaced sessions are invalid.
func (c *Coordinator) sessionForTicket(ticket string) (*session, error) {
	claims, err := c.tickets.Verify(ticket, auth.PurposePairing)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, common.ErrPairingExpired
		}
		return nil, common.ErrPairingTokenInvalid
	}
	s := c.sess
	if s == nil || s.id != claims.Subject || s.ticketID != claims.ID {
		return nil, common.ErrPairingTokenInvalid
	}
	return s, nil
}

// Request surfaces the device for approval.
func (c *Coordinator) Request(ctx context.Context, ticket string, info registry.DeviceInfo) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.sessionForTicket(ticket)
	if err != nil {
		return "", err
	}
	switch s.state {
	case StateConnecting, StateAwaitingApproval:
	case StateExpired:
		return "", common.ErrPairingExpired
	default:
		return "", common.ErrPairingWrongState
	}

	info = info.Normalize()
	s.device = &info
	s.state = StateAwaitingApproval

	c.log.Info(ctx, "pairing awaiting approval", "session", s.id, "device", info.Name, "platform", info.Platform)
	return s.id, nil
}

// Approve enrolls the waiting device. Resolving a session that is not
// awaiting approval changes nothing and returns common.ErrPairingNotPending.
func (c *Coordinator) Approve(ctx context.Context, sessionID, access string) (*models.Device, error) {
	if access == "" {
		access = common.AccessFull
	}
	if !common.ValidAccessLevel(access) {
		return nil, fmt.Errorf("%w: access level %q", common.ErrorValidation, access)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess
	if s == nil || s.id != sessionID || s.state != StateAwaitingApproval {
		return nil, common.ErrPairingNotPending
	}

	d, token, err := c.devices.Enroll(ctx, c.profileID, *s.device, access, s.fp)
	if err != nil {
		s.finish(StateError, err)
		c.log.Error(ctx, "enrollment failed", "session", s.id, "error", err)
		return nil, err
	}

	s.approval = &Approval{
		DeviceID:    d.ID,
		ProfileID:   d.ProfileID,
		Token:       token,
		Fingerprint: s.fp,
		Access:      d.Access,
	}
	s.finish(StateApproved, nil)

	c.log.Info(ctx, "pairing approved", "session", s.id, "device_id", d.ID, "access", access)
	return d, nil
}

// Deny rejects a pending session.
func (c *Coordinator) Deny(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess
	if s == nil || s.id != sessionID {
		return common.ErrPairingNotPending
	}
	switch s.state {
	case StateConnecting, StateAwaitingApproval:
	default:
		return common.ErrPairingNotPending
	}

	s.finish(StateDenied, common.ErrPairingDenied)
	c.log.Info(ctx, "pairing denied", "session", s.id)
	return nil
}

// AwaitResult blocks until the session resolves or ctx ends. The approval
// (with the bearer token) is returned once; later calls get
// common.ErrPairingDelivered.
func (c *Coordinator) AwaitResult(ctx context.Context, ticket string) (*Approval, error) {
	c.mu.Lock()
	s, err := c.sessionForTicket(ticket)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch s.state {
	case StateApproved:
		if s.delivered {
			return nil, common.ErrPairingDelivered
		}
		s.delivered = true
		if s.timer != nil {
			s.timer.Stop()
		}
		a := *s.approval
		s.approval.Token = ""
		c.log.Info(ctx, "pairing result delivered", "session", s.id, "device_id", a.DeviceID)
		return &a, nil
	case StateDenied:
		return nil, common.ErrPairingDenied
	case StateExpired:
		return nil, common.ErrPairingExpired
	default:
		if s.err != nil {
			return nil, s.err
		}
		return nil, common.ErrPairingCancelled
	}
}

// Abandon is the device giving up. A pending session is cancelled; an
// approved but undelivered one is rolled back so no device remains.
func (c *Coordinator) Abandon(ctx context.Context, ticket string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.sessionForTicket(ticket)
	if err != nil {
		return err
	}
	if s.state == StateApproved && s.delivered {
		return nil
	}
	c.log.Info(ctx, "pairing abandoned by device", "session", s.id, "state", s.state)
	c.cancelLocked(ctx, common.ErrPairingCancelled)
	return nil
}

// CancelPairing drops the current session, if any, and returns to idle.
func (c *Coordinator) CancelPairing(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(ctx, common.ErrPairingCancelled)
}

func (c *Coordinator) cancelLocked(ctx context.Context, reason error) {
	s := c.sess
	if s == nil {
		return
	}
	c.sess = nil
	s.burnToken()

	if s.state == StateApproved {
		if !s.delivered {
			c.rollbackLocked(ctx, s)
			s.finish(StateError, reason)
		}
		return
	}
	if !s.state.Terminal() {
		s.finish(StateError, reason)
		c.log.Info(ctx, "pairing cancelled", "session", s.id, "reason", reason)
	}
}

func (c *Coordinator) expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s := c.sess; s != nil && s.id == id {
		c.expireLocked(context.Background(), s)
	}
}

func (c *Coordinator) expireLocked(ctx context.Context, s *session) {
	s.burnToken()
	switch {
	case s.state == StateApproved && !s.delivered:
		c.rollbackLocked(ctx, s)
	case s.state.Terminal():
		return
	}
	s.finish(StateExpired, common.ErrPairingExpired)
	c.log.Info(ctx, "pairing expired", "session", s.id)
}

func (c *Coordinator) rollbackLocked(ctx context.Context, s *session) {
	if s.approval == nil {
		return
	}
	if err := c.devices.Unpair(ctx, s.approval.DeviceID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		c.log.Error(ctx, "rollback of undelivered device failed", "device_id", s.approval.DeviceID, "error", err)
	} else {
		c.log.Info(ctx, "undelivered device rolled back", "session", s.id, "device_id", s.approval.DeviceID)
	}
	s.approval.Token = ""
	s.approval = nil
}

// Status returns a snapshot of the current session.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.sess
	if s == nil {
		return Status{State: StateIdle}
	}
	st := Status{State: s.state, SessionID: s.id, ExpiresAt: s.expiresAt}
	if s.device != nil {
		d := *s.device
		st.Device = &d
	}
	if s.err != nil {
		st.Error = s.err.Error()
	}
	return st
}
