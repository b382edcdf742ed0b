package peersync

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/wire"
)

// Serve answers one session on rw until the initiator says goodbye or the
// stream ends. A stream closed by the initiator is not an error. When ctx
// is cancelled and rw is an io.Closer, rw is closed.
func Serve(ctx context.Context, peer Peer, rw io.ReadWriter, opts ...Option) (err error) {
	s := newSession(peer, rw, newConfig(opts), "responder")
	stop := closeOnCancel(ctx, rw)
	defer stop()
	defer func() { finish("responder", err) }()

	for {
		env, err := s.recv()
		if err != nil {
			if errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug("initiator hung up")
				return nil
			}
			return ctxErr(ctx, err)
		}
		if err := s.handle(ctx, env); err != nil {
			if errors.Is(err, errGoodbye) {
				return nil
			}
			return ctxErr(ctx, err)
		}
	}
}

var errGoodbye = errors.New("goodbye")

func (s *session) handle(ctx context.Context, env Envelope) error {
	switch env.Type {
	case MsgVectorClockRequest:
		return s.send(MsgVectorClockResponse, vectorClockResponse{Clock: s.peer.VectorClock()})

	case MsgOperationsRequest:
		var req operationsRequest
		if err := decodeBody(env, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		resp, err := s.page(ctx, req)
		if err != nil {
			return err
		}
		return s.send(MsgOperationsResponse, resp)

	case MsgBundlePush:
		var push bundlePush
		if err := decodeBody(env, &push); err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return s.receivePush(ctx, push)

	case MsgStateHashRequest:
		h, err := s.peer.StateHash()
		if err != nil {
			return fmt.Errorf("state hash: %w", err)
		}
		return s.send(MsgStateHashResponse, stateHashResponse{Hash: h})

	case MsgGoodbye:
		s.logger.Debug("initiator said goodbye", "sender", env.Sender.Short())
		return errGoodbye
	}
	return fmt.Errorf("%w: unexpected %s from initiator", ErrProtocol, env.Type)
}

// page returns the next slice of the gap, trimmed so that the encoded
// response fits one frame. At least one bundle is always sent.
func (s *session) page(ctx context.Context, req operationsRequest) (operationsResponse, error) {
	limit := req.Limit
	if limit <= 0 || limit > s.cfg.pageSize {
		limit = s.cfg.pageSize
	}
	bundles, complete, err := s.peer.BundlesSince(ctx, req.Since, limit)
	if err != nil {
		return operationsResponse{}, fmt.Errorf("read gap: %w", err)
	}

	// JSON carries bundle bytes as base64.
	budget := s.cfg.maxFrame/4*3 - 4096
	resp := operationsResponse{Complete: complete, Bundles: make([][]byte, 0, len(bundles))}
	size := 0
	for i, b := range bundles {
		data := oplog.EncodeBundle(b)
		if i > 0 && size+len(data) > budget {
			resp.Complete = false
			break
		}
		size += len(data)
		resp.Bundles = append(resp.Bundles, data)
	}
	return resp, nil
}

func (s *session) receivePush(ctx context.Context, push bundlePush) error {
	b, err := oplog.DecodeBundle(push.Bundle, s.cfg.limits)
	if err != nil {
		reason := NackInvalidSignature
		if oplog.IsCode(err, oplog.CodeSizeExceeded) {
			reason = NackSizeExceeded
		}
		return s.send(MsgBundleNack, bundleNack{Reason: reason, Message: err.Error()})
	}

	res, err := s.peer.Ingest(ctx, b)
	switch {
	case err != nil && ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		return s.send(MsgBundleNack, bundleNack{BundleID: b.ID, Reason: nackReason(err), Message: err.Error()})
	case !res.Accepted:
		return s.send(MsgBundleNack, bundleNack{BundleID: b.ID, Reason: NackDuplicateBundle})
	}
	return s.send(MsgBundleAck, bundleAck{BundleID: b.ID})
}

func finish(role string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = "cancelled"
	case errors.Is(err, ErrProtocol), errors.Is(err, wire.ErrFrameTooLarge):
		result = "protocol_error"
	default:
		result = "error"
	}
	sessionsTotal.WithLabelValues(role, result).Inc()
}
