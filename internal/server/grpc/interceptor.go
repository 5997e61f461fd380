package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// isLoopback accepts loopback TCP peers and unix sockets.
func isLoopback(addr net.Addr) bool {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.IsLoopback()
	case *net.UnixAddr:
		return true
	}
	return false
}

func (s *GRPCServer) loopbackInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil || !isLoopback(p.Addr) {
		remote := ""
		if ok && p.Addr != nil {
			remote = p.Addr.String()
		}
		s.logger.Warn(ctx, "control call from non-loopback peer rejected", "security", true, "remote", remote, "method", info.FullMethod)
		return nil, status.Error(codes.PermissionDenied, "control service is loopback only")
	}
	return handler(ctx, req)
}

func (s *GRPCServer) logInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn(ctx, "control call failed", "method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start).String())
		return resp, err
	}
	s.logger.Debug(ctx, "control call", "method", info.FullMethod, "duration", time.Since(start).String())
	return resp, nil
}
