// Package harness runs multi-peer convergence scenarios.
//
// A scenario starts a set of in-memory replicas with manual clocks, feeds
// them bundles, syncs them pairwise over in-process pipes and then checks
// assertions against their materialized state.
//
// # Scenario Format
//
//	name: concurrent_title
//	description: "Concurrent writes to one field surface as a conflict"
//	schema: |
//	  fields: body: crdt: "text"
//	  edges: child: ordered: true
//	peers: [a, b]
//	steps:
//	  - peer: a
//	    commit:
//	      ops:
//	        - {op: create_entity, entity: task-1}
//	  - sync: [a, b]
//	  - peer: b
//	    advance: 2s
//	  - peer: b
//	    commit:
//	      ops:
//	        - {op: set_field, entity: task-1, field: title, value: "B"}
//	assertions:
//	  - type: converged
//	  - type: conflict
//	    entity: task-1
//	    field: title
//
// Commit bodies use the opscript format. Names bound with "as" are shared
// by all peers, so later steps and assertions can refer to them.
//
// # Assertion Types
//
//   - converged: the peers hold equal vector clocks and state hashes
//   - field: a field has the given value, or is absent
//   - conflict: a field has concurrent tips, optionally with given values
//   - no_conflict: a field has a single tip
//   - edge_order: the live ordered children of a source, by target
//   - text: the rendered value of a text CRDT field
//
// An assertion without a peer applies to every peer.
//
// # Determinism
//
// Peer keys derive from peer names, IDs come from sequential generators and
// every clock starts at the same fixed instant. Two runs of a scenario
// produce identical logs, which keeps golden snapshots stable.
package harness
