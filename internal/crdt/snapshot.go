package crdt

import (
	"fmt"
	"unicode/utf8"
)

// NodeState is the serialized form of one character, tombstones included.
type NodeState struct {
	ID      ID     `json:"id"`
	Origin  ID     `json:"origin"`
	Value   string `json:"value"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Snapshot is the full state of a replica in document order. A client that
// lost its connection reseeds its replica from a snapshot; there is no
// operation log to replay.
type Snapshot struct {
	Clock uint64      `json:"clock"`
	Nodes []NodeState `json:"nodes"`
}

// Snapshot captures the replica state. Buffered operations are not included.
func (d *Doc) Snapshot() Snapshot {
	nodes := make([]NodeState, 0, len(d.nodes))
	for _, n := range d.nodes {
		nodes = append(nodes, NodeState{
			ID:      n.id,
			Origin:  n.origin,
			Value:   string(n.value),
			Deleted: n.deleted,
		})
	}
	return Snapshot{Clock: d.clock, Nodes: nodes}
}

// FromSnapshot rebuilds a replica for site from snap.
func FromSnapshot(site string, snap Snapshot) (*Doc, error) {
	d := New(site)
	d.clock = snap.Clock
	for i, ns := range snap.Nodes {
		if ns.ID.IsZero() || utf8.RuneCountInString(ns.Value) != 1 {
			return nil, fmt.Errorf("%w: snapshot node %d", ErrInvalidOp, i)
		}
		if _, dup := d.index[ns.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate snapshot node %s", ErrInvalidOp, ns.ID)
		}
		r, _ := utf8.DecodeRuneInString(ns.Value)
		n := &node{id: ns.ID, origin: ns.Origin, value: r, deleted: ns.Deleted}
		d.nodes = append(d.nodes, n)
		d.index[n.id] = n
		if !n.deleted {
			d.visible++
		}
		if n.id.Clock > d.clock {
			d.clock = n.id.Clock
		}
	}
	return d, nil
}
