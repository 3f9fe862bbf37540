package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type spiffeIdContextKey struct{}

func extractSpiffeIdFromContext(ctx context.Context) *string {
	if v := ctx.Value(spiffeIdContextKey{}); v != nil {
		if spiffeId, ok := v.(string); ok {
			return &spiffeId
		}
	}
	return nil
}

func extractSpiffeIdFromTls(ctx context.Context) *string {
	// First, check if it was already injected into context.
	if v := extractSpiffeIdFromContext(ctx); v != nil {
		return v
	}

	p, ok := peer.FromContext(ctx)
	if !ok || p == nil {
		return nil
	}

	ti, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return nil
	}

	state := ti.State
	if len(state.PeerCertificates) == 0 || state.PeerCertificates[0] == nil {
		return nil
	}

	// Find the first SPIFFE URI SAN; its trust domain is the caller ID,
	// e.g. spiffe://ci-runner -> "ci-runner".
	for _, uri := range state.PeerCertificates[0].URIs {
		if uri != nil && uri.Scheme == "spiffe" {
			return &uri.Host
		}
	}

	return nil
}

func injectSpiffeId(ctx context.Context, spiffeId string) context.Context {
	return context.WithValue(ctx, spiffeIdContextKey{}, spiffeId)
}

// authenticator rejects mTLS callers whose certificate has no SPIFFE ID.
type authenticator struct {
	log logrus.FieldLogger
}

func (a *authenticator) authenticate(ctx context.Context, method string) (context.Context, error) {
	spiffeId := extractSpiffeIdFromTls(ctx)
	if spiffeId == nil {
		a.log.WithField("method", method).Warn("rejected caller without SPIFFE ID")
		return nil, status.Error(codes.Unauthenticated, "client must have SPIFFE ID")
	}

	a.log.WithFields(logrus.Fields{"method": method, "caller": *spiffeId}).Debug("authenticated caller")
	return injectSpiffeId(ctx, *spiffeId), nil
}

func (a *authenticator) injectSpiffeIdUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, err := a.authenticate(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

type streamWithCtx struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *streamWithCtx) Context() context.Context { return s.ctx }

func (a *authenticator) injectSpiffeIdStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := a.authenticate(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &streamWithCtx{ServerStream: ss, ctx: ctx})
}
