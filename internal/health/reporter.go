// Package health implements the Health Reporter: a fixed-cadence
// heartbeat carrying a CPU/memory resource sample to the backend.
//
// Sampling is grounded on github.com/shirou/gopsutil/v3, part of the
// retrieval pack's dependency surface (csSone-Shepherd); the ticker shape
// (fixed interval, short per-call timeout, tolerate individual failures)
// is grounded on good-yellow-bee-blazelog's Heartbeater.
package health

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sysflow-telemetry/logshipper/internal/logging"
	"github.com/sysflow-telemetry/logshipper/internal/rpcapi"
)

// reporter is the subset of rpcapi.Transport the Health Reporter depends
// on.
type reporter interface {
	Heartbeat(ctx context.Context, req *rpcapi.HeartbeatRequest) (*rpcapi.HeartbeatResponse, error)
}

// Reporter samples host CPU and memory on a fixed cadence and reports
// them to the backend. A failed heartbeat is logged and never fatal; the
// next tick tries again.
type Reporter struct {
	client   reporter
	agentID  string
	interval time.Duration

	// callTimeout bounds each individual Heartbeat RPC so a slow or
	// wedged server can't stall the sampling loop past the next tick.
	callTimeout time.Duration
}

// New creates a Reporter that heartbeats every interval.
func New(client reporter, agentID string, interval time.Duration) *Reporter {
	callTimeout := interval / 2
	if callTimeout <= 0 {
		callTimeout = 5 * time.Second
	}
	return &Reporter{client: client, agentID: agentID, interval: interval, callTimeout: callTimeout}
}

// warmup is a short poll taken before the first heartbeat so that sample's
// CPU reading spans at least one observable interval; gopsutil's
// interval-0 mode reports the delta since the last call, which would
// otherwise be meaningless on the very first invocation.
const warmup = 200 * time.Millisecond

// Run samples and reports on every tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	cpu.PercentWithContext(ctx, 0, false) //nolint:errcheck // priming read, errors surface again in sample()
	select {
	case <-ctx.Done():
		return
	case <-time.After(warmup):
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

func (r *Reporter) beat(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	cpuPercent, memPercent, err := sample(cctx)
	if err != nil {
		logging.L.Warnw("resource sampling failed, skipping heartbeat", "error", err)
		return
	}

	req := &rpcapi.HeartbeatRequest{
		AgentID:    r.agentID,
		CPUPercent: cpuPercent,
		MemPercent: memPercent,
		At:         time.Now(),
	}
	if _, err := r.client.Heartbeat(cctx, req); err != nil {
		logging.L.Warnw("heartbeat failed", "error", err)
	}
}

// sample returns the host's current CPU utilization percentage and
// resident memory usage as a percentage of total physical memory.
func sample(ctx context.Context) (cpuPercent, memPercent float64, err error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, 0, err
	}
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	memPercent = vm.UsedPercent

	return cpuPercent, memPercent, nil
}
