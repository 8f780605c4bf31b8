// Package rpcapi defines the wire-level request/response shapes the agent
// exchanges with its backend and a concrete gRPC transport for them.
//
// The exact byte layout of these messages is an externally fixed concern
// this repository doesn't own; these types stand in for a generated pb.go
// the agent would otherwise import, and are carried over a real
// google.golang.org/grpc connection using a small JSON codec rather than a
// hand-maintained protobuf descriptor.
package rpcapi

import "time"

// LogLine mirrors logline.LineEvent on the wire.
type LogLine struct {
	Label      string    `json:"label"`
	Line       string    `json:"line"`
	ObservedAt time.Time `json:"observed_at"`
}

// LogBatch mirrors message.Batch on the wire.
type LogBatch struct {
	BatchID     string    `json:"batch_id"`
	AssembledAt time.Time `json:"assembled_at"`
	Logs        []LogLine `json:"logs"`
}

// Ack is sent once by the server at the close of a LogService.Send stream.
type Ack struct {
	Accepted      bool   `json:"accepted"`
	BatchesStored int64  `json:"batches_stored"`
	Message       string `json:"message,omitempty"`
}

// RegisterRequest asks the server to mint a new credential pair for a
// previously-unseen agent identity.
type RegisterRequest struct {
	AgentID    string `json:"agent_id"`
	ProjectKey string `json:"project_key"`
}

// RegisterResponse carries the freshly minted credential pair and the
// server-assigned agent identity.
type RegisterResponse struct {
	AgentID      string    `json:"agent_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RefreshRequest exchanges a refresh token for a new access token.
type RefreshRequest struct {
	AgentID      string `json:"agent_id"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse carries the renewed access token. RefreshToken is only
// set when the server rotates the refresh token as part of this call.
type RefreshResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// HeartbeatRequest reports a point-in-time resource sample for the agent.
type HeartbeatRequest struct {
	AgentID    string    `json:"agent_id"`
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
	At         time.Time `json:"at"`
}

// HeartbeatResponse acknowledges a heartbeat.
type HeartbeatResponse struct {
	Acknowledged bool `json:"acknowledged"`
}
