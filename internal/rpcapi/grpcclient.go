package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

const (
	methodLogServiceSend      = "/logshipper.v1.LogService/Send"
	methodAuthServiceRegister = "/logshipper.v1.AuthService/Register"
	methodAuthServiceRefresh  = "/logshipper.v1.AuthService/Refresh"
	methodHealthServiceBeat   = "/logshipper.v1.HealthService/Heartbeat"
)

// callOpts selects the JSON wire codec for every RPC issued through
// Transport, in place of the protobuf codec a generated client would use
// by default.
var callOpts = []grpc.CallOption{grpc.CallContentSubtype("json")}

// Transport is a thin wrapper over a shared *grpc.ClientConn exposing the
// three RPC surfaces the agent depends on: log upload, auth, and health.
type Transport struct {
	conn *grpc.ClientConn
}

// NewTransport wraps an already-dialed connection. The connection's
// PerRPCCredentials (see internal/auth.Injector) is what attaches the
// bearer token to every call made through the returned Transport other
// than Register and Refresh.
func NewTransport(conn *grpc.ClientConn) *Transport {
	return &Transport{conn: conn}
}

// Register exchanges a project key and agent identity for a fresh
// credential pair.
func (t *Transport) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	resp := new(RegisterResponse)
	if err := t.conn.Invoke(ctx, methodAuthServiceRegister, req, resp, callOpts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// Refresh exchanges a refresh token for a new access token.
func (t *Transport) Refresh(ctx context.Context, req *RefreshRequest) (*RefreshResponse, error) {
	resp := new(RefreshResponse)
	if err := t.conn.Invoke(ctx, methodAuthServiceRefresh, req, resp, callOpts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// Heartbeat reports one resource sample.
func (t *Transport) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	resp := new(HeartbeatResponse)
	if err := t.conn.Invoke(ctx, methodHealthServiceBeat, req, resp, callOpts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// LogStreamer is a client-streaming RPC handle: any number of Batch sends
// followed by a single Ack on close. Defined as an interface so the
// Streamer component can be exercised against a fake in tests.
type LogStreamer interface {
	Send(batch *LogBatch) error
	CloseAndRecv() (*Ack, error)
}

// LogStream is the concrete, grpc-backed LogStreamer.
type LogStream struct {
	stream grpc.ClientStream
}

// OpenLogStream lazily establishes the long-lived upload stream. Per the
// client-streaming contract, the stream is only actually dialed here; no
// bytes cross the wire until the first Send.
func (t *Transport) OpenLogStream(ctx context.Context) (LogStreamer, error) {
	desc := &grpc.StreamDesc{StreamName: "Send", ClientStreams: true}
	s, err := t.conn.NewStream(ctx, desc, methodLogServiceSend, callOpts...)
	if err != nil {
		return nil, err
	}
	return &LogStream{stream: s}, nil
}

// Send uploads one Batch on the stream.
func (s *LogStream) Send(batch *LogBatch) error {
	return s.stream.SendMsg(batch)
}

// CloseAndRecv half-closes the stream and waits for the server's Ack.
func (s *LogStream) CloseAndRecv() (*Ack, error) {
	if err := s.stream.CloseSend(); err != nil {
		return nil, err
	}
	ack := new(Ack)
	if err := s.stream.RecvMsg(ack); err != nil {
		return nil, err
	}
	return ack, nil
}
