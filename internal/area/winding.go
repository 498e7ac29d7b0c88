package area

// isBelow reports whether loc lies below (or on) the line supporting seg,
// using the signed-cross-product predicate (bx-ax)(cy-ay) - (by-ay)(cx-ax) <= 0.
func isBelow(loc Location, seg *NodeRefSegment) bool {
	ax, ay := float64(seg.first.Loc.X), float64(seg.first.Loc.Y)
	bx, by := float64(seg.second.Loc.X), float64(seg.second.Loc.Y)
	cx, cy := float64(loc.X), float64(loc.Y)
	return (bx-ax)*(cy-ay)-(by-ay)*(cx-ax) <= 0
}

// classifyWinding determines cw/ccw for a segment seeding a new ring by
// scanning backwards through already-processed segments (sorted order) for
// the nearest segment lying to the segment's left. Sorted order means
// scanning backwards is a left-to-right sweep.
func (a *Assembler) classifyWinding(seg *NodeRefSegment, index int) {
	seg.cw = true
	if index == 0 {
		return
	}

	p := seg.first.Loc
	for j := index - 1; j >= 0; j-- {
		cand := a.segments[j]

		minY, maxY := minMaxInt32(cand.first.Loc.Y, cand.second.Loc.Y)
		if p.Y < minY || p.Y > maxY {
			continue
		}

		if cand.first.Loc.X < p.X && cand.second.Loc.X < p.X {
			seg.cw = !cand.cw
			seg.leftSegment = cand
			return
		}
		if isBelow(p, cand) {
			seg.cw = !cand.cw
			seg.leftSegment = cand
			return
		}
	}
}
