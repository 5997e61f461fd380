package grpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/control"
	"github.com/dmitrijs2005/vitalink/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// toStatus maps domain errors to gRPC codes. The control surface is local,
// so messages are passed through.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, common.ErrorValidation), errors.Is(err, common.ErrUnknownServer):
		code = codes.InvalidArgument
	case errors.Is(err, common.ErrorNotFound):
		code = codes.NotFound
	case errors.Is(err, common.ErrorUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, common.ErrorAlreadyExists), errors.Is(err, common.ErrServerRunning):
		code = codes.AlreadyExists
	case errors.Is(err, common.ErrProfileLocked), errors.Is(err, common.ErrProfileUnlocked),
		errors.Is(err, common.ErrServerNotRunning), errors.Is(err, common.ErrPairingNotPending),
		errors.Is(err, common.ErrPairingWrongState):
		code = codes.FailedPrecondition
	}
	return status.Error(code, err.Error())
}

func (s *GRPCServer) activeProfile() (string, error) {
	a, ok := s.deps.Profiles.Active()
	if !ok {
		return "", status.Error(codes.FailedPrecondition, common.ErrProfileLocked.Error())
	}
	return a.ID, nil
}

func encode(v any) (*structpb.Struct, error) {
	st, err := control.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return st, nil
}

func decode(st *structpb.Struct, v any) error {
	if err := control.Decode(st, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *GRPCServer) Unlock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in control.UnlockRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	pass := []byte(in.Passphrase)
	defer common.WipeByteArray(pass)

	res, err := s.deps.Profiles.Unlock(ctx, in.Name, pass)
	if err != nil {
		return nil, toStatus(err)
	}

	out := control.UnlockResult{
		Profile: control.Profile{ID: res.ID, Name: res.Name, Fingerprint: res.Fingerprint, UnlockedAt: res.UnlockedAt},
		Created: res.Created,
		Started: res.Started,
	}
	for name, err := range res.StartErrors {
		if out.StartErrors == nil {
			out.StartErrors = map[string]string{}
		}
		out.StartErrors[name] = err.Error()
	}
	return encode(out)
}

func (s *GRPCServer) Lock(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.deps.Profiles.Lock(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) servers(ctx context.Context) ([]control.Server, error) {
	st, err := s.deps.Servers.Status(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]control.Server, 0, len(st))
	for _, v := range st {
		out = append(out, control.Server{
			Name:      v.Name,
			Running:   v.Running,
			Addr:      v.Addr,
			TLS:       v.TLS,
			StartedAt: timePtr(v.StartedAt),
			Requests:  v.Requests,
			Details:   v.Details,
		})
	}
	return out, nil
}

func (s *GRPCServer) pairingView() control.Pairing {
	st := s.deps.Pairing.Status()
	out := control.Pairing{
		State:     string(st.State),
		SessionID: st.SessionID,
		ExpiresAt: timePtr(st.ExpiresAt),
		Error:     st.Error,
	}
	if st.Device != nil {
		out.Device = &control.DeviceInfo{Name: st.Device.Name, Model: st.Device.Model, Platform: st.Device.Platform}
	}
	return out
}

func (s *GRPCServer) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	servers, err := s.servers(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := control.Status{Servers: servers, Pairing: s.pairingView()}
	if a, ok := s.deps.Profiles.Active(); ok {
		out.Profile = &control.Profile{ID: a.ID, Name: a.Name, Fingerprint: a.Fingerprint, UnlockedAt: a.UnlockedAt}
	}
	return encode(out)
}

func (s *GRPCServer) StartServer(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	// servers need the trust anchor and registry of an unlocked profile
	if _, err := s.activeProfile(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.GetValue())
	if err := s.deps.Servers.Start(ctx, name); err != nil {
		return nil, toStatus(err)
	}
	servers, err := s.servers(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	for _, v := range servers {
		if v.Name == name {
			return encode(v)
		}
	}
	return nil, status.Error(codes.Internal, "started server missing from status")
}

func (s *GRPCServer) StopServer(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.deps.Servers.Stop(ctx, strings.TrimSpace(req.GetValue())); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) StartPairing(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	offer, err := s.deps.Pairing.StartPairing(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(control.Offer{
		SessionID: offer.SessionID,
		Payload:   offer.Text,
		PNG:       offer.PNG,
		ExpiresAt: offer.ExpiresAt,
	})
}

func (s *GRPCServer) PairingStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return encode(s.pairingView())
}

func deviceView(d models.Device) control.Device {
	return control.Device{
		ID:          d.ID,
		Name:        d.Name,
		Model:       d.Model,
		Platform:    d.Platform,
		Access:      d.Access,
		Fingerprint: d.Fingerprint,
		PairedAt:    d.PairedAt,
		LastSeen:    d.LastSeen,
	}
}

func deviceList(ds []models.Device) control.DeviceList {
	out := control.DeviceList{Devices: make([]control.Device, 0, len(ds))}
	for _, d := range ds {
		out.Devices = append(out.Devices, deviceView(d))
	}
	return out
}

func (s *GRPCServer) ApprovePairing(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in control.ApproveRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	if in.Access == "" {
		in.Access = common.AccessFull
	}
	d, err := s.deps.Pairing.Approve(ctx, in.SessionID, in.Access)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(deviceView(*d))
}

func (s *GRPCServer) DenyPairing(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.deps.Pairing.Deny(ctx, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) CancelPairing(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.deps.Pairing.CancelPairing(ctx)
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) ListDevices(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, err := s.activeProfile()
	if err != nil {
		return nil, err
	}
	ds, err := s.deps.Devices.ListDevices(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(deviceList(ds))
}

func (s *GRPCServer) UnpairDevice(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	id, err := s.activeProfile()
	if err != nil {
		return nil, err
	}
	if err := s.deps.Devices.UnpairForProfile(ctx, id, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) DeviceCount(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	id, err := s.activeProfile()
	if err != nil {
		return nil, err
	}
	n, err := s.deps.Devices.DeviceCount(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Int64(int64(n)), nil
}

func (s *GRPCServer) InactiveDevices(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	id, err := s.activeProfile()
	if err != nil {
		return nil, err
	}
	days := int(req.GetValue())
	if days <= 0 {
		days = s.deps.InactiveDays
	}
	ds, err := s.deps.Devices.InactiveDevices(ctx, id, days)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(deviceList(ds))
}

func (s *GRPCServer) GrantAccess(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id, err := s.activeProfile()
	if err != nil {
		return nil, err
	}
	var in control.GrantRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	if _, err := s.deps.Grants.Grant(ctx, id, in.Grantee, in.Access); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *GRPCServer) RevokeGrant(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	id, err := s.activeProfile()
	if err != nil {
		return nil, err
	}
	if err := s.deps.Grants.Revoke(ctx, id, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func grantViews(gs []models.Grant) []control.Grant {
	out := make([]control.Grant, 0, len(gs))
	for _, g := range gs {
		out = append(out, control.Grant{GranterID: g.GranterID, GranteeID: g.GranteeID, Access: g.Access, GrantedAt: g.GrantedAt})
	}
	return out
}

func (s *GRPCServer) ListGrants(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, err := s.activeProfile()
	if err != nil {
		return nil, err
	}
	given, err := s.deps.Grants.Given(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	received, err := s.deps.Grants.Received(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(control.Grants{Given: grantViews(given), Received: grantViews(received)})
}

func (s *GRPCServer) RotateCertificate(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	fp, err := s.deps.Profiles.RotateCertificate(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(fp), nil
}
