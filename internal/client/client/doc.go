// Package client talks to the vitalink daemon over its loopback control
// service.
//
// GRPCClient implements Client on top of a plain grpc.ClientConn. The
// service has no generated stubs: every call goes through Invoke with a
// well-known request type, and structured results are decoded into the
// view types of package control.
//
// # Error Handling
//
// gRPC status codes are mapped back to sentinel errors so callers can use
// errors.Is: the shared ones from package common (not found, validation,
// profile locked and so on) and the local ones ErrUnavailable,
// ErrPermissionDenied and ErrFailedPrecondition.
package client
