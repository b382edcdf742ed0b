package harness

import (
	"github.com/wlococode/openprod-sub001/internal/identity"
	"github.com/wlococode/openprod-sub001/internal/materializer"
	"github.com/wlococode/openprod-sub001/internal/vclock"
)

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Step    int      `json:"step"` // 1-based
	Kind    string   `json:"kind"` // "commit", "sync" or "advance"
	Peers   []string `json:"peers"`
	Summary string   `json:"summary"`
}

// PeerState is the final state of one peer.
type PeerState struct {
	Name     string
	Actor    identity.ActorID
	Hash     string
	Clock    vclock.VectorClock
	Entities []materializer.EntityView
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Peers holds final states in scenario order.
	Peers []PeerState `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace records a step outcome.
func (r *Result) AddTrace(step int, kind string, peers []string, summary string) {
	r.Trace = append(r.Trace, TraceEvent{Step: step, Kind: kind, Peers: peers, Summary: summary})
}

// Peer returns the final state of the named peer.
func (r *Result) Peer(name string) (PeerState, bool) {
	for _, p := range r.Peers {
		if p.Name == name {
			return p, true
		}
	}
	return PeerState{}, false
}
