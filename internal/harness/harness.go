package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/wlococode/openprod-sub001/internal/crdt"
	"github.com/wlococode/openprod-sub001/internal/hlc"
	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/materializer"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/opscript"
	"github.com/wlococode/openprod-sub001/internal/peersync"
	"github.com/wlococode/openprod-sub001/internal/replica"
	"github.com/wlococode/openprod-sub001/internal/schema"
	"github.com/wlococode/openprod-sub001/internal/store"
	"github.com/wlococode/openprod-sub001/internal/testutil"
)

// StartMillis is the wall time every peer clock starts at.
const StartMillis = 1_700_000_000_000

// Harness holds the peers of one scenario run.
type Harness struct {
	peers  map[string]*peer
	order  []string
	names  *opscript.Names
	logger *slog.Logger
}

type peer struct {
	name string
	wall *testutil.ManualClock
	r    *replica.Replica
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on fresh in-memory replicas. An error is returned only
// when the scenario cannot run at all; unexpected step outcomes and failed
// assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	h, err := newHarness(ctx, scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i := range scenario.Steps {
		if err := h.step(ctx, i+1, &scenario.Steps[i], result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	if err := h.capture(result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(h, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario) (*Harness, error) {
	sch := schema.New()
	if scenario.Schema != "" {
		var err error
		if sch, err = schema.LoadSource(scenario.Schema); err != nil {
			return nil, fmt.Errorf("schema: %w", err)
		}
	}
	if err := sch.Validate(crdt.DefaultRegistry().Kinds()); err != nil {
		return nil, err
	}

	h := &Harness{
		peers:  make(map[string]*peer, len(scenario.Peers)),
		order:  scenario.Peers,
		names:  opscript.NewNames(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for i, name := range scenario.Peers {
		var ident identity.Provider = identity.Open{}
		if len(scenario.Trusted) > 0 {
			ring := identity.NewKeyring(testutil.Key(name).Actor())
			for _, t := range scenario.Trusted {
				ring.Add(testutil.Key(t).Actor())
			}
			ident = ring
		}
		wall := testutil.NewManualClock(StartMillis)
		r, err := replica.Open(ctx, replica.Options{
			Key:      testutil.Key(name),
			Storage:  store.NewMemStore(),
			Schema:   sch,
			Identity: ident,
			Clock:    hlc.NewClock(hlc.WithWallClock(wall)),
			IDs:      oplog.NewSequentialGenerator(byte(i+1), name),
			Logger:   h.logger,
		})
		if err != nil {
			h.close()
			return nil, fmt.Errorf("peer %s: %w", name, err)
		}
		h.peers[name] = &peer{name: name, wall: wall, r: r}
	}
	return h, nil
}

func (h *Harness) close() {
	for _, p := range h.peers {
		p.r.Close()
	}
}

// Replica returns the named peer's replica.
func (h *Harness) Replica(name string) *replica.Replica {
	return h.peers[name].r
}

func (h *Harness) step(ctx context.Context, n int, step *Step, result *Result) error {
	switch step.Kind() {
	case StepCommit:
		h.commit(ctx, n, step, result)
	case StepSync:
		return h.sync(ctx, n, step, result)
	case StepAdvance:
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		targets := h.order
		if step.Peer != "" {
			targets = []string{step.Peer}
		}
		for _, name := range targets {
			h.peers[name].wall.Advance(d)
		}
		result.AddTrace(n, StepAdvance, targets, "advance "+d.String())
	}
	return nil
}

// commit builds and commits a bundle. A failure is an outcome, not an error:
// it is compared against the step's expectation.
func (h *Harness) commit(ctx context.Context, n int, step *Step, result *Result) {
	p := h.peers[step.Peer]
	peers := []string{p.name}

	b, err := step.Commit.Build(p.r, h.names)
	var bundle *oplog.Bundle
	if err == nil {
		bundle, _, err = p.r.Commit(ctx, b)
	}

	code := ""
	if err != nil {
		code = string(oplog.CodeOf(err))
		if code == "" {
			code = "ERROR"
		}
	}
	switch {
	case err == nil && step.Expect == "":
		result.AddTrace(n, StepCommit, peers, fmt.Sprintf("%d ops", len(bundle.Operations)))
	case err == nil:
		result.AddTrace(n, StepCommit, peers, fmt.Sprintf("%d ops", len(bundle.Operations)))
		result.AddError(fmt.Sprintf("step %d: commit on %s succeeded, expected %s", n, p.name, step.Expect))
	case code == step.Expect:
		result.AddTrace(n, StepCommit, peers, "rejected "+code)
	default:
		result.AddTrace(n, StepCommit, peers, "rejected "+code)
		result.AddError(fmt.Sprintf("step %d: commit on %s: %v", n, p.name, err))
	}
	h.logger.Info("commit step", "step", n, "peer", p.name, "err", err)
}

// sync runs one session between two peers over an in-process pipe.
func (h *Harness) sync(ctx context.Context, n int, step *Step, result *Result) error {
	from, to := h.peers[step.Sync[0]], h.peers[step.Sync[1]]
	opts := []peersync.Option{peersync.WithLogger(h.logger)}
	if step.PageSize > 0 {
		opts = append(opts, peersync.WithPageSize(step.PageSize))
	}

	c1, c2 := net.Pipe()
	defer c1.Close()
	errc := make(chan error, 1)
	go func() {
		defer c2.Close()
		errc <- peersync.Serve(ctx, to.r, c2, opts...)
	}()

	rep, err := peersync.Sync(ctx, from.r, c1, opts...)
	c1.Close()
	serveErr := <-errc
	if err := errors.Join(err, serveErr); err != nil {
		return fmt.Errorf("sync %s -> %s: %w", from.name, to.name, err)
	}

	result.AddTrace(n, StepSync, step.Sync, summarize(rep))
	if rep.Divergent {
		result.AddError(fmt.Sprintf("step %d: %s and %s diverged: %s != %s", n, from.name, to.name, rep.LocalHash, rep.RemoteHash))
	}
	return nil
}

func summarize(rep peersync.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pulled %d, pushed %d", rep.Pulled, rep.Pushed)
	if rep.Duplicates > 0 {
		fmt.Fprintf(&sb, ", %d duplicate", rep.Duplicates)
	}
	for _, rj := range rep.Rejected {
		fmt.Fprintf(&sb, ", %s rejected %s", rj.Direction, rj.Reason)
	}
	switch {
	case rep.Divergent:
		sb.WriteString(", diverged")
	case rep.Converged:
		sb.WriteString(", converged")
	}
	return sb.String()
}

// capture records every peer's final state.
func (h *Harness) capture(result *Result) error {
	for _, name := range h.order {
		r := h.peers[name].r
		hash, err := r.StateHash()
		if err != nil {
			return fmt.Errorf("peer %s: %w", name, err)
		}
		ps := PeerState{Name: name, Actor: r.Actor(), Hash: hash, Clock: r.VectorClock()}
		for _, id := range r.EntityIDs() {
			v, ok := r.Entity(id)
			if !ok {
				continue
			}
			if v.ID != id {
				v = materializer.EntityView{ID: id, MergedInto: v.ID}
			}
			ps.Entities = append(ps.Entities, v)
		}
		result.Peers = append(result.Peers, ps)
	}
	return nil
}
