// Package crdt implements a replicated text sequence (RGA with Lamport
// clocks). Every replica applies its own edits immediately and merges remote
// operations in any delivery order; replicas that have applied the same set
// of operations hold the same text.
//
// A Doc is not safe for concurrent use. The hub owns one replica per room and
// touches it only from its event loop; clients guard theirs with a mutex.
package crdt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxPending bounds the number of operations a replica buffers while their
// dependencies are missing.
const MaxPending = 4096

type node struct {
	id      ID
	origin  ID
	value   rune
	deleted bool
}

// Doc is a single replica of a replicated text.
type Doc struct {
	site    string
	clock   uint64
	nodes   []*node
	index   map[ID]*node
	visible int
	pending []Op
}

// New creates an empty replica owned by site.
func New(site string) *Doc {
	return &Doc{
		site:  site,
		index: make(map[ID]*node),
	}
}

// FromText creates a replica whose content is text. Identifiers are derived
// from SeedSite and the rune offset, so two replicas seeded with the same
// text can exchange operations.
func FromText(site, text string) *Doc {
	d := New(site)
	origin := ID{}
	var clock uint64
	for _, r := range text {
		clock++
		n := &node{id: ID{Clock: clock, Site: SeedSite}, origin: origin, value: r}
		d.nodes = append(d.nodes, n)
		d.index[n.id] = n
		origin = n.id
	}
	d.visible = len(d.nodes)
	d.clock = clock
	return d
}

// Site returns the replica's site name.
func (d *Doc) Site() string { return d.site }

// Clock returns the highest Lamport clock the replica has observed.
func (d *Doc) Clock() uint64 { return d.clock }

// Len returns the number of visible runes.
func (d *Doc) Len() int { return d.visible }

// Pending returns the number of buffered remote operations.
func (d *Doc) Pending() int { return len(d.pending) }

// Text renders the visible content.
func (d *Doc) Text() string {
	var b strings.Builder
	b.Grow(d.visible)
	for _, n := range d.nodes {
		if !n.deleted {
			b.WriteRune(n.value)
		}
	}
	return b.String()
}

// Insert places text at visible position pos and returns the operations to
// ship to other replicas. The change is visible locally on return.
func (d *Doc) Insert(pos int, text string) ([]Op, error) {
	if pos < 0 || pos > d.visible {
		return nil, fmt.Errorf("%w: insert at %d (len %d)", ErrOutOfRange, pos, d.visible)
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid utf-8", ErrInvalidOp)
	}

	origin := ID{}
	if pos > 0 {
		origin = d.nodes[d.nodeIndex(pos-1)].id
	}

	ops := make([]Op, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		d.clock++
		op := Op{
			Kind:   OpInsert,
			ID:     ID{Clock: d.clock, Site: d.site},
			Origin: origin,
			Value:  string(r),
		}
		d.integrate(op)
		ops = append(ops, op)
		origin = op.ID
	}
	return ops, nil
}

// Delete removes n visible runes starting at pos and returns the operations
// to ship to other replicas.
func (d *Doc) Delete(pos, n int) ([]Op, error) {
	if n == 0 {
		return nil, nil
	}
	if pos < 0 || n < 0 || pos+n > d.visible {
		return nil, fmt.Errorf("%w: delete [%d,%d) (len %d)", ErrOutOfRange, pos, pos+n, d.visible)
	}

	targets := make([]*node, 0, n)
	seen := 0
	for _, nd := range d.nodes {
		if nd.deleted {
			continue
		}
		if seen >= pos && seen < pos+n {
			targets = append(targets, nd)
		}
		seen++
		if seen >= pos+n {
			break
		}
	}

	ops := make([]Op, 0, len(targets))
	for _, nd := range targets {
		nd.deleted = true
		d.visible--
		ops = append(ops, Op{Kind: OpDelete, ID: nd.id})
	}
	return ops, nil
}

// Replace turns the content into text using the smallest single-region edit
// (common prefix and suffix are kept) and returns the operations produced.
func (d *Doc) Replace(text string) ([]Op, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: text is not valid utf-8", ErrInvalidOp)
	}
	oldRunes := []rune(d.Text())
	newRunes := []rune(text)

	prefix := 0
	for prefix < len(oldRunes) && prefix < len(newRunes) && oldRunes[prefix] == newRunes[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(oldRunes)-prefix && suffix < len(newRunes)-prefix &&
		oldRunes[len(oldRunes)-1-suffix] == newRunes[len(newRunes)-1-suffix] {
		suffix++
	}

	ops, err := d.Delete(prefix, len(oldRunes)-prefix-suffix)
	if err != nil {
		return nil, err
	}
	inserted, err := d.Insert(prefix, string(newRunes[prefix:len(newRunes)-suffix]))
	if err != nil {
		return nil, err
	}
	return append(ops, inserted...), nil
}

// Apply merges remote operations. Operations whose dependencies have not
// arrived yet are buffered and retried on later calls. Duplicates are
// ignored. It returns the number of operations that changed the replica
// (including previously buffered ones). Malformed input is rejected as a
// whole before anything is applied.
func (d *Doc) Apply(ops ...Op) (int, error) {
	changed, err := d.Merge(ops...)
	return len(changed), err
}

// Merge is Apply returning the operations that changed the replica, in the
// order they took effect. Buffered operations released by this call are
// included.
func (d *Doc) Merge(ops ...Op) ([]Op, error) {
	if err := validateAll(ops); err != nil {
		return nil, err
	}

	var changed []Op
	for _, op := range ops {
		ok, effect := d.applyOne(op)
		if !ok {
			if len(d.pending) >= MaxPending {
				return changed, ErrPendingOverflow
			}
			d.pending = append(d.pending, op)
			continue
		}
		if effect {
			changed = append(changed, op)
		}
	}
	return d.drainPending(changed), nil
}

// MergeReady applies only the operations whose dependencies the replica
// already holds. The others are returned in rejected and never buffered.
func (d *Doc) MergeReady(ops ...Op) (changed, rejected []Op, err error) {
	if err := validateAll(ops); err != nil {
		return nil, nil, err
	}

	for _, op := range ops {
		ok, effect := d.applyOne(op)
		if !ok {
			rejected = append(rejected, op)
			continue
		}
		if effect {
			changed = append(changed, op)
		}
	}
	if len(changed) > 0 {
		changed = d.drainPending(changed)
	}
	return changed, rejected, nil
}

func validateAll(ops []Op) error {
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// drainPending retries buffered operations until no more can be applied and
// appends the ones that changed the replica to changed.
func (d *Doc) drainPending(changed []Op) []Op {
	for progress := true; progress && len(d.pending) > 0; {
		progress = false
		rest := d.pending[:0]
		for _, op := range d.pending {
			ok, effect := d.applyOne(op)
			if !ok {
				rest = append(rest, op)
				continue
			}
			progress = true
			if effect {
				changed = append(changed, op)
			}
		}
		d.pending = rest
	}
	return changed
}

// applyOne reports whether op's dependencies were satisfied and whether it
// changed the replica.
func (d *Doc) applyOne(op Op) (ok, changed bool) {
	switch op.Kind {
	case OpInsert:
		if _, dup := d.index[op.ID]; dup {
			return true, false
		}
		if !op.Origin.IsZero() {
			if _, known := d.index[op.Origin]; !known {
				return false, false
			}
		}
		d.integrate(op)
		return true, true
	case OpDelete:
		n, known := d.index[op.ID]
		if !known {
			return false, false
		}
		if n.deleted {
			return true, false
		}
		n.deleted = true
		d.visible--
		return true, true
	}
	return true, false
}

// integrate inserts a node whose origin is known. Starting right after the
// origin it skips every node with a greater identifier; those are concurrent
// siblings that win the tie, or their descendants.
func (d *Doc) integrate(op Op) {
	r, _ := utf8.DecodeRuneInString(op.Value)
	n := &node{id: op.ID, origin: op.Origin, value: r}

	i := 0
	if !op.Origin.IsZero() {
		i = d.position(op.Origin) + 1
	}
	for i < len(d.nodes) && d.nodes[i].id.After(op.ID) {
		i++
	}

	d.nodes = append(d.nodes, nil)
	copy(d.nodes[i+1:], d.nodes[i:])
	d.nodes[i] = n
	d.index[n.id] = n
	d.visible++
	if op.ID.Clock > d.clock {
		d.clock = op.ID.Clock
	}
}

// position returns the slice index of the node with the given id, or -1.
func (d *Doc) position(id ID) int {
	for i, n := range d.nodes {
		if n.id == id {
			return i
		}
	}
	return -1
}

// nodeIndex returns the slice index of the visible rune at pos.
func (d *Doc) nodeIndex(pos int) int {
	seen := 0
	for i, n := range d.nodes {
		if n.deleted {
			continue
		}
		if seen == pos {
			return i
		}
		seen++
	}
	return -1
}
