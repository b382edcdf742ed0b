package store

import (
	"context"
	"fmt"

	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/oplog"
)

// LogStats summarizes a stored log.
type LogStats struct {
	Bundles    int
	Operations int
	Actors     int
}

// Replay feeds every stored bundle to fn in canonical order, re-verifying
// each one first when p is non-nil. It stops at the first error.
func Replay(ctx context.Context, s Storage, p identity.Provider, fn func(*oplog.Bundle) error) (LogStats, error) {
	var stats LogStats
	bundles, err := s.ReadBundles(ctx)
	if err != nil {
		return stats, fmt.Errorf("replay: %w", err)
	}

	actors := make(map[identity.ActorID]struct{})
	for _, b := range bundles {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if p != nil {
			if err := b.Verify(p, oplog.DefaultLimits); err != nil {
				return stats, fmt.Errorf("replay: bundle %s: %w", b.ID, err)
			}
		}
		if err := fn(b); err != nil {
			return stats, fmt.Errorf("replay: bundle %s: %w", b.ID, err)
		}
		stats.Bundles++
		stats.Operations += len(b.Operations)
		actors[b.Actor] = struct{}{}
	}
	stats.Actors = len(actors)
	return stats, nil
}
