// Package peersync replicates bundles between two replicas over any
// ordered byte stream.
//
// The initiator drives a session:
//
//	vector clock -> pull (paged) -> push -> state hash -> goodbye
//
// and the responder answers requests until it sees goodbye or the stream
// ends. Every received bundle goes through the replica ingest pipeline, so
// a session never bypasses verification or validation.
package peersync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/oplog"
	"github.com/wlococode/openprod-sub001/internal/replica"
	"github.com/wlococode/openprod-sub001/internal/vclock"
	"github.com/wlococode/openprod-sub001/internal/wire"
)

// DefaultPageSize is the number of bundles requested per operations request.
const DefaultPageSize = 256

// Peer is the replica surface a session needs. *replica.Replica
// implements it.
type Peer interface {
	Actor() identity.ActorID
	VectorClock() vclock.VectorClock
	BundlesSince(ctx context.Context, since vclock.VectorClock, limit int) ([]*oplog.Bundle, bool, error)
	Ingest(ctx context.Context, b *oplog.Bundle) (replica.Result, error)
	StateHash() (string, error)
}

var _ Peer = (*replica.Replica)(nil)

// ErrProtocol reports a message the session did not expect.
var ErrProtocol = errors.New("sync protocol error")

// Option configures a session.
type Option func(*config)

type config struct {
	pageSize int
	maxFrame int
	limits   oplog.Limits
	logger   *slog.Logger
}

// WithPageSize sets how many bundles to request per page.
func WithPageSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithMaxFrame sets the largest frame accepted from the peer.
func WithMaxFrame(n int) Option {
	return func(c *config) { c.maxFrame = n }
}

// WithLimits sets the limits applied when decoding received bundles.
func WithLimits(l oplog.Limits) Option {
	return func(c *config) { c.limits = l }
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func newConfig(opts []Option) config {
	c := config{
		pageSize: DefaultPageSize,
		maxFrame: wire.DefaultMaxFrame,
		limits:   oplog.DefaultLimits,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// session is one side of a connection.
type session struct {
	cfg    config
	peer   Peer
	conn   *wire.Conn
	seq    uint64
	logger *slog.Logger
}

func newSession(peer Peer, rw io.ReadWriter, cfg config, role string) *session {
	return &session{
		cfg:    cfg,
		peer:   peer,
		conn:   wire.NewConn(rw, cfg.maxFrame),
		logger: cfg.logger.With("sync_role", role, "actor", peer.Actor().Short()),
	}
}

func (s *session) send(t MsgType, body any) error {
	payload, err := encodeBody(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	s.seq++
	frame, err := Envelope{Type: t, Sender: s.peer.Actor(), Seq: s.seq, Body: payload}.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.conn.WriteFrame(frame); err != nil {
		return fmt.Errorf("send %s: %w", t, err)
	}
	messagesTotal.WithLabelValues("out", t.String()).Inc()
	return nil
}

func (s *session) recv() (Envelope, error) {
	frame, err := s.conn.ReadFrame()
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := env.UnmarshalBinary(frame); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	messagesTotal.WithLabelValues("in", env.Type.String()).Inc()
	return env, nil
}

// expect reads the next envelope and decodes it into body when it has type t.
func (s *session) expect(t MsgType, body any) (Envelope, error) {
	env, err := s.recv()
	if err != nil {
		return env, err
	}
	if env.Type != t {
		return env, fmt.Errorf("%w: want %s, got %s", ErrProtocol, t, env.Type)
	}
	if body != nil {
		if err := decodeBody(env, body); err != nil {
			return env, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
	}
	return env, nil
}

// closeOnCancel closes rw when ctx is cancelled, unblocking any pending
// read or write. The returned stop function must be called when the
// session ends.
func closeOnCancel(ctx context.Context, rw io.ReadWriter) (stop func()) {
	closer, ok := rw.(io.Closer)
	if !ok {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			closer.Close()
		case <-done:
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// ctxErr prefers the context error over the I/O error it caused.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
