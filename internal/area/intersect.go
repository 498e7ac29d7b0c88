package area

import "math"

// outsideXRange reports whether s2 lies entirely to the right of s1 in the
// sort order, meaning no later segment can overlap s1's x range either.
func outsideXRange(s2, s1 *NodeRefSegment) bool {
	return s2.first.Loc.X > s1.second.Loc.X
}

// yRangeOverlap reports whether the two segments' y-intervals overlap.
func yRangeOverlap(s1, s2 *NodeRefSegment) bool {
	min1, max1 := minMaxInt32(s1.first.Loc.Y, s1.second.Loc.Y)
	min2, max2 := minMaxInt32(s2.first.Loc.Y, s2.second.Loc.Y)
	return min1 <= max2 && min2 <= max1
}

// calculateIntersection returns the point where s1 and s2 cross, if any.
// Endpoint-sharing does not count: the intersection must fall strictly
// inside both segments.
func calculateIntersection(s1, s2 *NodeRefSegment) (Location, bool) {
	ax1, ay1 := float64(s1.first.Loc.X), float64(s1.first.Loc.Y)
	ax2, ay2 := float64(s1.second.Loc.X), float64(s1.second.Loc.Y)
	bx1, by1 := float64(s2.first.Loc.X), float64(s2.first.Loc.Y)
	bx2, by2 := float64(s2.second.Loc.X), float64(s2.second.Loc.Y)

	dax, day := ax2-ax1, ay2-ay1
	dbx, dby := bx2-bx1, by2-by1

	denom := dax*dby - day*dbx
	if denom == 0 {
		// Parallel (including collinear overlap) — not a strict crossing.
		return Location{}, false
	}

	t := ((bx1-ax1)*dby - (by1-ay1)*dbx) / denom
	u := ((bx1-ax1)*day - (by1-ay1)*dax) / denom
	if t <= 0 || t >= 1 || u <= 0 || u >= 1 {
		return Location{}, false
	}

	return Location{
		X: int32(math.Round(ax1 + t*dax)),
		Y: int32(math.Round(ay1 + t*day)),
	}, true
}

// findIntersections scans sorted segments pairwise for crossings. Segments
// that are exactly equal reach this stage only when dedup left an odd
// count that still happens to touch another distinct pair; they are noted
// but not counted as intersections.
func (a *Assembler) findIntersections() bool {
	found := false
	segs := a.segments

	for i := 0; i < len(segs)-1; i++ {
		s1 := segs[i]
		for j := i + 1; j < len(segs); j++ {
			s2 := segs[j]

			if outsideXRange(s2, s1) {
				break
			}
			if s1.Equal(s2) {
				a.debugf("found overlap on segment %v", s1)
				continue
			}
			if !yRangeOverlap(s1, s2) {
				continue
			}
			loc, ok := calculateIntersection(s1, s2)
			if !ok {
				continue
			}
			found = true
			a.debugf("segments %v and %v intersecting at %v", s1, s2, loc)
			if a.rememberProblems {
				a.problems = append(a.problems, Problem{
					Type:    ProblemIntersection,
					NodeRef: NodeRef{Loc: loc},
					Seg1:    s1,
					Seg2:    s2,
				})
			}
		}
	}

	return found
}
