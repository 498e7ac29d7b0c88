package area

// buildRings processes segments in sorted order, attaching each to an
// existing open ring by endpoint-location match, or seeding a new ring
// when none matches.
func (a *Assembler) buildRings() {
	for i, seg := range a.segments {
		if a.attachToOpenRing(seg) {
			continue
		}

		a.classifyWinding(seg, i)
		ring := newProtoRing(seg)
		seg.ring = ring
		a.rings = append(a.rings, ring)
	}
}

// attachToOpenRing tries the four endpoint-matching cases, in spec order,
// against each open ring in turn. Returns true on the first match.
func (a *Assembler) attachToOpenRing(seg *NodeRefSegment) bool {
	for _, ring := range a.rings {
		if ring.Closed() {
			continue
		}

		switch {
		case ring.Last().Loc == seg.first.Loc:
			a.combineRings(seg, seg.second, ring, true)
		case ring.Last().Loc == seg.second.Loc:
			a.combineRings(seg, seg.first, ring, true)
		case ring.First().Loc == seg.first.Loc:
			a.combineRings(seg, seg.second, ring, false)
		case ring.First().Loc == seg.second.Loc:
			a.combineRings(seg, seg.first, ring, false)
		default:
			continue
		}
		return true
	}
	return false
}

// combineRings attaches segment to ring at the matched end (or start),
// checks for a self-touch closing off a subring, and then tries to merge
// ring with another open ring sharing the newly-extended endpoint.
func (a *Assembler) combineRings(seg *NodeRefSegment, nodeRef NodeRef, ring *ProtoRing, atEnd bool) {
	a.debugf("match")
	seg.ring = ring

	var merged *ProtoRing
	if atEnd {
		ring.AddEnd(nodeRef)
		a.closeSubringEnd(ring)
		merged = a.possiblyCombineRingsEnd(ring)
	} else {
		ring.AddStart(nodeRef)
		a.closeSubringStart(ring)
		merged = a.possiblyCombineRingsStart(ring)
	}

	if merged != nil {
		a.updateRingLink(merged, ring)
	}
}

// closeSubringEnd detects whether extending ring at its end just closed it,
// or touched an interior NodeRef, in which case the tail from the touch
// through the new endpoint is split out as a newly-closed ring.
func (a *Assembler) closeSubringEnd(ring *ProtoRing) {
	nodes := ring.nodes
	loc := nodes[len(nodes)-1].Loc

	if loc == ring.First().Loc {
		a.debugf("ring now closed")
		return
	}

	for i := 0; i < len(nodes)-1; i++ {
		if nodes[i].Loc == loc {
			a.debugf("subring found at index %d", i)
			newRing := ring.splitTailAsNewRing(i)
			a.rings = append(a.rings, newRing)
			return
		}
	}
}

// closeSubringStart is the symmetric case for extension at the start.
func (a *Assembler) closeSubringStart(ring *ProtoRing) {
	nodes := ring.nodes
	loc := nodes[0].Loc

	if loc == ring.Last().Loc {
		a.debugf("ring now closed")
		return
	}

	for i := 1; i < len(nodes); i++ {
		if nodes[i].Loc == loc {
			a.debugf("subring found at index %d", i)
			newRing := ring.splitHeadAsNewRing(i)
			a.rings = append(a.rings, newRing)
			return
		}
	}
}

// possiblyCombineRingsEnd looks for another open ring whose endpoint
// matches ring's newly-extended last location, merging and removing it.
func (a *Assembler) possiblyCombineRingsEnd(ring *ProtoRing) *ProtoRing {
	loc := ring.Last().Loc
	for _, other := range a.rings {
		if other == ring || other.Closed() {
			continue
		}
		if other.First().Loc == loc {
			ring.MergeEnd(other, false)
			a.removeRing(other)
			return other
		}
		if other.Last().Loc == loc {
			ring.MergeEnd(other, true)
			a.removeRing(other)
			return other
		}
	}
	return nil
}

// possiblyCombineRingsStart is the symmetric case for the start endpoint.
func (a *Assembler) possiblyCombineRingsStart(ring *ProtoRing) *ProtoRing {
	loc := ring.First().Loc
	for _, other := range a.rings {
		if other == ring || other.Closed() {
			continue
		}
		if other.Last().Loc == loc {
			ring.MergeStart(other, false)
			a.removeRing(other)
			return other
		}
		if other.First().Loc == loc {
			ring.MergeStart(other, true)
			a.removeRing(other)
			return other
		}
	}
	return nil
}

// removeRing deletes a consumed ring from the live ring list.
func (a *Assembler) removeRing(ring *ProtoRing) {
	for i, r := range a.rings {
		if r == ring {
			a.rings = append(a.rings[:i], a.rings[i+1:]...)
			return
		}
	}
}

// updateRingLink retargets every segment pointing at the consumed ring to
// the surviving ring. Segments carry a ring pointer rather than rings
// owning segments precisely so this retarget pass is possible.
func (a *Assembler) updateRingLink(old, surviving *ProtoRing) {
	for _, seg := range a.segments {
		if seg.ring == old {
			seg.ring = surviving
		}
	}
}

// checkForOpenRings records ring_not_closed problems for every open ring's
// two endpoints and reports whether any ring was left open.
func (a *Assembler) checkForOpenRings() bool {
	open := false
	for _, ring := range a.rings {
		if ring.Closed() {
			continue
		}
		open = true
		if a.rememberProblems {
			a.problems = append(a.problems,
				Problem{Type: ProblemRingNotClosed, NodeRef: ring.First()},
				Problem{Type: ProblemRingNotClosed, NodeRef: ring.Last()},
			)
		}
	}
	return open
}
