package grpc

import (
	"context"

	"github.com/dmitrijs2005/vitalink/internal/control"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ControlServer is the handler set behind the control service descriptor.
type ControlServer interface {
	Unlock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Lock(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StartServer(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	StopServer(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	StartPairing(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	PairingStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ApprovePairing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DenyPairing(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	CancelPairing(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	ListDevices(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	UnpairDevice(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	DeviceCount(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	InactiveDevices(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	GrantAccess(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RevokeGrant(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	ListGrants(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	RotateCertificate(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

func unary[Req proto.Message, Resp proto.Message](name string, newReq func() Req, call func(ControlServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			req := newReq()
			if err := dec(req); err != nil {
				return nil, err
			}
			cs := srv.(ControlServer)
			if ic == nil {
				return call(cs, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: control.FullMethod(name)}
			return ic(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return call(cs, ctx, r.(Req))
			})
		},
	}
}

func newEmpty() *emptypb.Empty           { return &emptypb.Empty{} }
func newStruct() *structpb.Struct        { return &structpb.Struct{} }
func newString() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }
func newInt64() *wrapperspb.Int64Value   { return &wrapperspb.Int64Value{} }

// ServiceDesc describes vitalink.control.v1.Control without generated code.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: control.ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(control.MethodUnlock, newStruct, ControlServer.Unlock),
		unary(control.MethodLock, newEmpty, ControlServer.Lock),
		unary(control.MethodStatus, newEmpty, ControlServer.Status),
		unary(control.MethodStartServer, newString, ControlServer.StartServer),
		unary(control.MethodStopServer, newString, ControlServer.StopServer),
		unary(control.MethodStartPairing, newEmpty, ControlServer.StartPairing),
		unary(control.MethodPairingStatus, newEmpty, ControlServer.PairingStatus),
		unary(control.MethodApprovePairing, newStruct, ControlServer.ApprovePairing),
		unary(control.MethodDenyPairing, newString, ControlServer.DenyPairing),
		unary(control.MethodCancelPairing, newEmpty, ControlServer.CancelPairing),
		unary(control.MethodListDevices, newEmpty, ControlServer.ListDevices),
		unary(control.MethodUnpairDevice, newString, ControlServer.UnpairDevice),
		unary(control.MethodDeviceCount, newEmpty, ControlServer.DeviceCount),
		unary(control.MethodInactiveDevices, newInt64, ControlServer.InactiveDevices),
		unary(control.MethodGrantAccess, newStruct, ControlServer.GrantAccess),
		unary(control.MethodRevokeGrant, newString, ControlServer.RevokeGrant),
		unary(control.MethodListGrants, newEmpty, ControlServer.ListGrants),
		unary(control.MethodRotateCertificate, newEmpty, ControlServer.RotateCertificate),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vitalink/control/v1/control.proto",
}
