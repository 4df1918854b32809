package crdt

// Anchor pins a caret to the character on its left rather than to a numeric
// offset, so it keeps its logical place when remote edits land elsewhere.
// A zero Anchor sits at the start of the document.
type Anchor struct {
	After ID `json:"after"`
}

// AnchorAt returns the anchor for visible position pos. Positions outside
// the document are clamped.
func (d *Doc) AnchorAt(pos int) Anchor {
	if pos <= 0 || d.visible == 0 {
		return Anchor{}
	}
	if pos > d.visible {
		pos = d.visible
	}
	return Anchor{After: d.nodes[d.nodeIndex(pos-1)].id}
}

// Resolve converts an anchor back into a visible position. If the anchored
// character was deleted the caret falls back to where it used to be; an
// unknown anchor resolves to the start of the document.
func (d *Doc) Resolve(a Anchor) int {
	if a.After.IsZero() {
		return 0
	}
	pos := 0
	for _, n := range d.nodes {
		if !n.deleted {
			pos++
		}
		if n.id == a.After {
			return pos
		}
	}
	return 0
}

// Cursor tracks a caret on a replica across merges.
type Cursor struct {
	doc    *Doc
	anchor Anchor
}

// Track starts tracking a caret at visible position pos.
func (d *Doc) Track(pos int) *Cursor {
	return &Cursor{doc: d, anchor: d.AnchorAt(pos)}
}

// Pos returns the caret's current visible position.
func (c *Cursor) Pos() int {
	return c.doc.Resolve(c.anchor)
}

// MoveTo re-anchors the caret at visible position pos, typically after a
// local edit.
func (c *Cursor) MoveTo(pos int) {
	c.anchor = c.doc.AnchorAt(pos)
}

// Anchor returns the caret's anchor.
func (c *Cursor) Anchor() Anchor {
	return c.anchor
}

// Rebind moves the cursor onto another replica of the same document, e.g.
// after a reseed from a snapshot.
func (c *Cursor) Rebind(d *Doc) {
	c.doc = d
}
