package peersync

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/vclock"
	"github.com/wlococode/openprod-sub001/internal/wire"
)

// Direction tells which side refused a bundle.
type Direction string

const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
)

// Rejection is a bundle that one side refused during a session.
type Rejection struct {
	Direction Direction        `json:"direction"`
	BundleID  oplog.BundleID   `json:"bundle_id"`
	Actor     identity.ActorID `json:"actor"`
	Reason    NackReason       `json:"reason"`
	Message   string           `json:"message,omitempty"`
}

// Report summarizes one session from the initiator's side.
type Report struct {
	Pulled     int         `json:"pulled"`     // bundles accepted locally
	Pushed     int         `json:"pushed"`     // bundles the peer accepted
	Duplicates int         `json:"duplicates"` // bundles the receiving side already had
	Rejected   []Rejection `json:"rejected,omitempty"`

	// Stalled is set when the pull stopped before the peer reported the
	// gap complete because no page made progress.
	Stalled bool `json:"stalled"`

	LocalHash   string `json:"local_hash"`
	RemoteHash  string `json:"remote_hash"`
	ClocksEqual bool   `json:"clocks_equal"`

	// Converged reports equal state hashes at the end of the session.
	Converged bool `json:"converged"`

	// Divergent reports equal clocks with different state hashes. It is
	// always a bug and is logged at error level.
	Divergent bool `json:"divergent"`
}

// Sync runs one bidirectional session as the initiator: it pulls what the
// peer has that the local replica lacks, pushes the reverse gap and
// compares state hashes. A rejected bundle does not fail the session; it
// is listed in the report and later bundles from the same actor are held
// back so that vector clocks stay prefix-closed.
func Sync(ctx context.Context, peer Peer, rw io.ReadWriter, opts ...Option) (rep Report, err error) {
	s := newSession(peer, rw, newConfig(opts), "initiator")
	stop := closeOnCancel(ctx, rw)
	defer stop()
	defer func() { finish("initiator", err) }()

	remote, err := s.remoteClock()
	if err != nil {
		return rep, ctxErr(ctx, err)
	}
	if err := s.pull(ctx, remote, &rep); err != nil {
		return rep, ctxErr(ctx, err)
	}
	if err := s.push(ctx, remote, &rep); err != nil {
		return rep, ctxErr(ctx, err)
	}
	if err := s.compare(&rep); err != nil {
		return rep, ctxErr(ctx, err)
	}
	if err := s.send(MsgGoodbye, nil); err != nil {
		return rep, ctxErr(ctx, err)
	}

	s.logger.Info("sync finished",
		"pulled", rep.Pulled,
		"pushed", rep.Pushed,
		"duplicates", rep.Duplicates,
		"rejected", len(rep.Rejected),
		"converged", rep.Converged)
	return rep, nil
}

func (s *session) remoteClock() (vclock.VectorClock, error) {
	if err := s.send(MsgVectorClockRequest, nil); err != nil {
		return nil, err
	}
	var resp vectorClockResponse
	if _, err := s.expect(MsgVectorClockResponse, &resp); err != nil {
		return nil, err
	}
	if resp.Clock == nil {
		resp.Clock = vclock.New()
	}
	return resp.Clock, nil
}

// pull pages through the peer's gap. A held actor's entry in since is
// raised past everything the peer holds from it, so its backlog drops out
// of later pages and other actors keep arriving.
func (s *session) pull(ctx context.Context, remote vclock.VectorClock, rep *Report) error {
	held := vclock.New()
	for {
		since := s.peer.VectorClock()
		since.Merge(held)
		req := operationsRequest{Since: since, Limit: s.cfg.pageSize}
		if err := s.send(MsgOperationsRequest, req); err != nil {
			return err
		}
		var resp operationsResponse
		if _, err := s.expect(MsgOperationsResponse, &resp); err != nil {
			return err
		}

		progressed := false
		for _, raw := range resp.Bundles {
			b, err := oplog.DecodeBundle(raw, s.cfg.limits)
			if err != nil {
				rep.Rejected = append(rep.Rejected, Rejection{
					Direction: DirectionPull,
					Reason:    nackReason(err),
					Message:   err.Error(),
				})
				continue
			}
			if _, ok := held[b.Actor]; ok {
				if held.Update(b.Actor, b.HLC) {
					progressed = true
				}
				continue
			}
			res, err := s.peer.Ingest(ctx, b)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				held.Update(b.Actor, b.HLC)
				held.Update(b.Actor, remote.Get(b.Actor))
				progressed = true
				rep.Rejected = append(rep.Rejected, Rejection{
					Direction: DirectionPull,
					BundleID:  b.ID,
					Actor:     b.Actor,
					Reason:    nackReason(err),
					Message:   err.Error(),
				})
				continue
			}
			if res.Accepted {
				rep.Pulled++
				progressed = true
			} else {
				rep.Duplicates++
			}
		}

		if resp.Complete {
			return nil
		}
		if !progressed {
			s.logger.Warn("pull made no progress; stopping", "page", len(resp.Bundles))
			rep.Stalled = true
			return nil
		}
	}
}

func (s *session) push(ctx context.Context, remote vclock.VectorClock, rep *Report) error {
	bundles, _, err := s.peer.BundlesSince(ctx, remote, 0)
	if err != nil {
		return fmt.Errorf("read gap: %w", err)
	}
	held := make(map[identity.ActorID]bool)
	for _, b := range bundles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if held[b.Actor] {
			continue
		}
		err := s.send(MsgBundlePush, bundlePush{Bundle: oplog.EncodeBundle(b)})
		if errors.Is(err, wire.ErrFrameTooLarge) {
			// Nothing was written, so the session can go on without it.
			held[b.Actor] = true
			rep.Rejected = append(rep.Rejected, Rejection{
				Direction: DirectionPush,
				BundleID:  b.ID,
				Actor:     b.Actor,
				Reason:    NackSizeExceeded,
				Message:   err.Error(),
			})
			s.logger.Warn("bundle too large to push", "bundle", b.ID, "error", err)
			continue
		}
		if err != nil {
			return err
		}
		env, err := s.recv()
		if err != nil {
			return err
		}
		switch env.Type {
		case MsgBundleAck:
			rep.Pushed++
		case MsgBundleNack:
			var nack bundleNack
			if err := decodeBody(env, &nack); err != nil {
				return fmt.Errorf("%w: %v", ErrProtocol, err)
			}
			nacksTotal.WithLabelValues(string(nack.Reason)).Inc()
			if nack.Reason == NackDuplicateBundle {
				rep.Duplicates++
				continue
			}
			held[b.Actor] = true
			rep.Rejected = append(rep.Rejected, Rejection{
				Direction: DirectionPush,
				BundleID:  b.ID,
				Actor:     b.Actor,
				Reason:    nack.Reason,
				Message:   nack.Message,
			})
			s.logger.Warn("peer refused bundle", "bundle", b.ID, "reason", nack.Reason, "message", nack.Message)
		default:
			return fmt.Errorf("%w: want ack or nack, got %s", ErrProtocol, env.Type)
		}
	}
	return nil
}

func (s *session) compare(rep *Report) error {
	if err := s.send(MsgStateHashRequest, nil); err != nil {
		return err
	}
	var resp stateHashResponse
	if _, err := s.expect(MsgStateHashResponse, &resp); err != nil {
		return err
	}
	remote, err := s.remoteClock()
	if err != nil {
		return err
	}
	local, err := s.peer.StateHash()
	if err != nil {
		return fmt.Errorf("state hash: %w", err)
	}

	rep.LocalHash = local
	rep.RemoteHash = resp.Hash
	rep.ClocksEqual = s.peer.VectorClock().Equal(remote)
	rep.Converged = local == resp.Hash
	if rep.ClocksEqual && !rep.Converged {
		rep.Divergent = true
		divergences.Inc()
		s.logger.Error("state diverged with equal clocks",
			"local_hash", local,
			"remote_hash", resp.Hash)
	}
	return nil
}
