package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/control"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const defaultTimeout = 10 * time.Second

type GRPCClient struct {
	endpointURL string
	timeout     time.Duration
	conn        *grpc.ClientConn
}

var _ Client = (*GRPCClient)(nil)

// NewControlClient connects to the daemon at endpointURL, which is a
// loopback host:port or a unix:// path. A zero timeout means the default.
func NewControlClient(endpointURL string, timeout time.Duration) (*GRPCClient, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &GRPCClient{endpointURL: endpointURL, timeout: timeout}
	if err := c.InitGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) InitGRPCClient() error {
	conn, err := grpc.NewClient(s.endpointURL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.timeoutInterceptor))
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// timeoutInterceptor bounds calls whose context carries no deadline.
func (s *GRPCClient) timeoutInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

// preconditions are the daemon errors reported as FailedPrecondition.
var preconditions = []error{
	common.ErrProfileLocked,
	common.ErrProfileUnlocked,
	common.ErrServerNotRunning,
	common.ErrPairingNotPending,
	common.ErrPairingWrongState,
}

func (s *GRPCClient) mapError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()

	var target error
	switch st.Code() {
	case codes.Unavailable:
		target = ErrUnavailable
	case codes.PermissionDenied:
		target = ErrPermissionDenied
	case codes.Unauthenticated:
		target = common.ErrorUnauthorized
	case codes.NotFound:
		target = common.ErrorNotFound
	case codes.InvalidArgument:
		target = common.ErrorValidation
		if strings.Contains(msg, common.ErrUnknownServer.Error()) {
			target = common.ErrUnknownServer
		}
	case codes.AlreadyExists:
		target = common.ErrorAlreadyExists
		if strings.Contains(msg, common.ErrServerRunning.Error()) {
			target = common.ErrServerRunning
		}
	case codes.FailedPrecondition:
		target = ErrFailedPrecondition
		for _, e := range preconditions {
			if strings.Contains(msg, e.Error()) {
				target = e
				break
			}
		}
	default:
		return err
	}
	if msg == target.Error() {
		return target
	}
	return fmt.Errorf("%w: %s", target, msg)
}

func (s *GRPCClient) invoke(ctx context.Context, method string, in, out proto.Message) error {
	if err := s.conn.Invoke(ctx, control.FullMethod(method), in, out); err != nil {
		return s.mapError(err)
	}
	return nil
}

// invokeView sends in and decodes the Struct reply into out.
func (s *GRPCClient) invokeView(ctx context.Context, method string, in proto.Message, out any) error {
	reply := &structpb.Struct{}
	if err := s.invoke(ctx, method, in, reply); err != nil {
		return err
	}
	return control.Decode(reply, out)
}

func encodeView(v any) (*structpb.Struct, error) {
	return control.Encode(v)
}

func (s *GRPCClient) Unlock(ctx context.Context, name string, passphrase []byte) (*control.UnlockResult, error) {
	req, err := encodeView(control.UnlockRequest{Name: name, Passphrase: string(passphrase)})
	if err != nil {
		return nil, err
	}
	var res control.UnlockResult
	if err := s.invokeView(ctx, control.MethodUnlock, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GRPCClient) Lock(ctx context.Context) error {
	return s.invoke(ctx, control.MethodLock, &emptypb.Empty{}, &emptypb.Empty{})
}

func (s *GRPCClient) Status(ctx context.Context) (*control.Status, error) {
	var res control.Status
	if err := s.invokeView(ctx, control.MethodStatus, &emptypb.Empty{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GRPCClient) StartServer(ctx context.Context, name string) (*control.Server, error) {
	var res control.Server
	if err := s.invokeView(ctx, control.MethodStartServer, wrapperspb.String(name), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GRPCClient) StopServer(ctx context.Context, name string) error {
	return s.invoke(ctx, control.MethodStopServer, wrapperspb.String(name), &emptypb.Empty{})
}

func (s *GRPCClient) StartPairing(ctx context.Context) (*control.Offer, error) {
	var res control.Offer
	if err := s.invokeView(ctx, control.MethodStartPairing, &emptypb.Empty{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GRPCClient) PairingStatus(ctx context.Context) (*control.Pairing, error) {
	var res control.Pairing
	if err := s.invokeView(ctx, control.MethodPairingStatus, &emptypb.Empty{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GRPCClient) ApprovePairing(ctx context.Context, sessionID, access string) (*control.Device, error) {
	req, err := encodeView(control.ApproveRequest{SessionID: sessionID, Access: access})
	if err != nil {
		return nil, err
	}
	var res control.Device
	if err := s.invokeView(ctx, control.MethodApprovePairing, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GRPCClient) DenyPairing(ctx context.Context, sessionID string) error {
	return s.invoke(ctx, control.MethodDenyPairing, wrapperspb.String(sessionID), &emptypb.Empty{})
}

func (s *GRPCClient) CancelPairing(ctx context.Context) error {
	return s.invoke(ctx, control.MethodCancelPairing, &emptypb.Empty{}, &emptypb.Empty{})
}

func (s *GRPCClient) ListDevices(ctx context.Context) ([]control.Device, error) {
	var res control.DeviceList
	if err := s.invokeView(ctx, control.MethodListDevices, &emptypb.Empty{}, &res); err != nil {
		return nil, err
	}
	return res.Devices, nil
}

func (s *GRPCClient) UnpairDevice(ctx context.Context, deviceID string) error {
	return s.invoke(ctx, control.MethodUnpairDevice, wrapperspb.String(deviceID), &emptypb.Empty{})
}

func (s *GRPCClient) DeviceCount(ctx context.Context) (int, error) {
	res := &wrapperspb.Int64Value{}
	if err := s.invoke(ctx, control.MethodDeviceCount, &emptypb.Empty{}, res); err != nil {
		return 0, err
	}
	return int(res.GetValue()), nil
}

func (s *GRPCClient) InactiveDevices(ctx context.Context, days int) ([]control.Device, error) {
	var res control.DeviceList
	if err := s.invokeView(ctx, control.MethodInactiveDevices, wrapperspb.Int64(int64(days)), &res); err != nil {
		return nil, err
	}
	return res.Devices, nil
}

func (s *GRPCClient) GrantAccess(ctx context.Context, grantee, access string) error {
	req, err := encodeView(control.GrantRequest{Grantee: grantee, Access: access})
	if err != nil {
		return err
	}
	return s.invoke(ctx, control.MethodGrantAccess, req, &emptypb.Empty{})
}

func (s *GRPCClient) RevokeGrant(ctx context.Context, grantee string) error {
	return s.invoke(ctx, control.MethodRevokeGrant, wrapperspb.String(grantee), &emptypb.Empty{})
}

func (s *GRPCClient) ListGrants(ctx context.Context) (*control.Grants, error) {
	var res control.Grants
	if err := s.invokeView(ctx, control.MethodListGrants, &emptypb.Empty{}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GRPCClient) RotateCertificate(ctx context.Context) (string, error) {
	res := &wrapperspb.StringValue{}
	if err := s.invoke(ctx, control.MethodRotateCertificate, &emptypb.Empty{}, res); err != nil {
		return "", err
	}
	return res.GetValue(), nil
}
