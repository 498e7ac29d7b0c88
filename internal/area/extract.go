package area

import "sort"

// ExtractSegments flattens member ways into undirected segments in the
// order the caller supplies, walking each way's node sequence pairwise.
// A segment is emitted only when the two NodeRefs differ in identity and
// location (a stray shared id at a different location, or a distinct id
// at the same location, never produces a zero-length segment) and the
// leading NodeRef carries a resolved location.
func ExtractSegments(ways []Way) []*NodeRefSegment {
	var out []*NodeRefSegment
	for _, way := range ways {
		var last NodeRef
		haveLast := false
		for _, nr := range way.Nodes {
			if haveLast && last.HasLocation() && last.ID != nr.ID && last.Loc != nr.Loc {
				out = append(out, newSegment(last, nr))
			}
			last = nr
			haveLast = true
		}
	}
	return out
}

// SortAndDedupe sorts segments lexicographically by canonical endpoint and
// then collapses adjacent equal pairs. Equal segments arise when two ways
// traverse the same edge in opposite directions; an odd run of duplicates
// leaves exactly one copy, an even run cancels entirely.
func SortAndDedupe(segs []*NodeRefSegment) []*NodeRefSegment {
	sort.Slice(segs, func(i, j int) bool {
		return segs[i].Less(segs[j])
	})

	out := segs[:0]
	for i := 0; i < len(segs); {
		if i+1 < len(segs) && segs[i].Equal(segs[i+1]) {
			i += 2
			continue
		}
		out = append(out, segs[i])
		i++
	}
	return out
}
