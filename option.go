package datastore

import (
	"context"

	"go.mercari.io/dsrpc/internal"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
)

type ClientOption interface {
	Apply(*internal.ClientSettings)
}

func WithProjectID(projectID string) ClientOption {
	return withProjectID{projectID}
}

type withProjectID struct{ s string }

func (w withProjectID) Apply(o *internal.ClientSettings) {
	o.ProjectID = w.s
}

// WithNamespace returns a ClientOption that sets the namespace applied to
// queries that do not name one.
func WithNamespace(namespace string) ClientOption {
	return withNamespace{namespace}
}

type withNamespace struct{ s string }

func (w withNamespace) Apply(o *internal.ClientSettings) {
	o.Namespace = w.s
}

// WithTokenSource returns a ClientOption that specifies an OAuth2 token
// source to be used as the basis for authentication.
func WithTokenSource(s oauth2.TokenSource) ClientOption {
	return withTokenSource{s}
}

type withTokenSource struct{ ts oauth2.TokenSource }

func (w withTokenSource) Apply(o *internal.ClientSettings) {
	o.TokenSource = w.ts
}

type withCredFile string

func (w withCredFile) Apply(o *internal.ClientSettings) {
	o.CredentialsFile = string(w)
}

// WithCredentialsFile returns a ClientOption that authenticates
// API calls with the given service account or refresh token JSON
// credentials file.
func WithCredentialsFile(filename string) ClientOption {
	return withCredFile(filename)
}

// WithScopes returns a ClientOption that overrides the default OAuth2 scopes
// to be used for a service.
func WithScopes(scope ...string) ClientOption {
	return withScopes(scope)
}

type withScopes []string

func (w withScopes) Apply(o *internal.ClientSettings) {
	s := make([]string, len(w))
	copy(s, w)
	o.Scopes = s
}

// WithEndpoint returns a ClientOption that overrides the gRPC endpoint
// ("host:port") the client dials.
func WithEndpoint(endpoint string) ClientOption {
	return withEndpoint(endpoint)
}

type withEndpoint string

func (w withEndpoint) Apply(o *internal.ClientSettings) {
	o.Endpoint = string(w)
}

// WithGRPCConn returns a ClientOption that specifies the gRPC client
// connection to use as the basis of communications. When used, the
// WithGRPCConn option takes precedent over WithEndpoint and WithGRPCDialOption.
func WithGRPCConn(conn *grpc.ClientConn) ClientOption {
	return withGRPCConn{conn}
}

type withGRPCConn struct{ conn *grpc.ClientConn }

func (w withGRPCConn) Apply(o *internal.ClientSettings) {
	o.GRPCConn = w.conn
}

// WithGRPCDialOption returns a ClientOption that appends a dial option used
// when the client creates its own connection.
func WithGRPCDialOption(opt grpc.DialOption) ClientOption {
	return withGRPCDialOption{opt}
}

type withGRPCDialOption struct{ opt grpc.DialOption }

func (w withGRPCDialOption) Apply(o *internal.ClientSettings) {
	o.DialOptions = append(o.DialOptions, w.opt)
}

// WithLogger returns a ClientOption that receives the client's diagnostic logs.
func WithLogger(logf func(ctx context.Context, format string, args ...interface{})) ClientOption {
	return withLogger{logf}
}

type withLogger struct {
	logf func(ctx context.Context, format string, args ...interface{})
}

func (w withLogger) Apply(o *internal.ClientSettings) {
	o.Logf = w.logf
}

// WithMaxDeferredRetries returns a ClientOption that bounds how many times a
// lookup is re-issued for keys the service deferred. When the bound is
// exceeded the call fails with ErrDeferredLookupExhausted.
func WithMaxDeferredRetries(n int) ClientOption {
	return withMaxDeferredRetries(n)
}

type withMaxDeferredRetries int

func (w withMaxDeferredRetries) Apply(o *internal.ClientSettings) {
	o.MaxDeferredRetries = int(w)
}
