// Package area assembles OpenStreetMap multipolygon relations into closed
// outer rings with their nested inner (hole) rings, classified by winding.
//
// One Assembler processes one relation per call to Assemble and is not
// safe for concurrent use; callers that process relations on multiple
// goroutines should use one Assembler per goroutine.
package area

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/osm2pgsql-go/internal/logger"
)

// Tag is a single OSM key/value pair.
type Tag struct {
	Key, Value string
}

// Relation carries the attributes of the source multipolygon relation.
type Relation struct {
	ID        int64
	Version   int
	Changeset int64
	Timestamp time.Time
	Visible   bool
	UID       int
	User      string
	Tags      []Tag
}

// Way is an ordered list of NodeRefs, read-only for the duration of an
// Assemble call.
type Way struct {
	ID    int64
	Nodes []NodeRef
}

// ProblemType discriminates the kind of anomaly recorded in a Problem.
type ProblemType int

const (
	// ProblemIntersection marks a pair of segments crossing strictly
	// inside both.
	ProblemIntersection ProblemType = iota
	// ProblemRingNotClosed marks an endpoint of a chain left open after
	// ring construction completes.
	ProblemRingNotClosed
)

func (t ProblemType) String() string {
	switch t {
	case ProblemIntersection:
		return "intersection"
	case ProblemRingNotClosed:
		return "ring_not_closed"
	default:
		return "unknown"
	}
}

// Problem records an anomaly found in the input data. Seg1/Seg2 are set
// only for intersection problems.
type Problem struct {
	Type       ProblemType
	NodeRef    NodeRef
	Seg1, Seg2 *NodeRefSegment
}

// Ring is an emitted closed ring: its NodeRef sequence plus any inner
// (hole) rings nested directly inside it.
type Ring struct {
	Nodes []NodeRef
	Inner []Ring
}

// Area is the assembled output entity: relation attributes plus the outer
// rings found. An Area with no Outer rings is, by definition, invalid.
type Area struct {
	ID        int64
	Version   int
	Changeset int64
	Timestamp time.Time
	Visible   bool
	UID       int
	User      string
	Tags      []Tag
	Outer     []Ring
}

// Assembler holds the per-invocation working state (segments, rings) and
// the persistent configuration (debug output, problem collection) and
// accumulated Problems list.
type Assembler struct {
	debug            bool
	rememberProblems bool
	problems         []Problem

	segments []*NodeRefSegment
	rings    []*ProtoRing
}

// NewAssembler returns a ready-to-use Assembler with default configuration
// (debug output and problem collection both disabled).
func NewAssembler() *Assembler {
	return &Assembler{}
}

// EnableDebugOutput toggles diagnostic tracing. Debug output never affects
// the assembled result.
func (a *Assembler) EnableDebugOutput(debug bool) {
	a.debug = debug
}

// RememberProblems toggles accumulation of Problems found in the input
// data. Disabled by default since it adds overhead.
func (a *Assembler) RememberProblems(remember bool) {
	a.rememberProblems = remember
}

// ClearProblems resets the accumulated Problems list.
func (a *Assembler) ClearProblems() {
	a.problems = a.problems[:0]
}

// Problems returns the Problems accumulated since the last ClearProblems,
// across however many Assemble calls happened in between.
func (a *Assembler) Problems() []Problem {
	return a.problems
}

func (a *Assembler) debugf(format string, args ...interface{}) {
	if !a.debug {
		return
	}
	logger.Get().Debug("area: " + fmt.Sprintf(format, args...))
}

// Assemble builds an Area from relation and its member ways. Ways must be
// supplied in relation member order; duplicates are permitted. Invalid
// input results in an Area with no Outer rings rather than an error — the
// caller's output contract treats a ring-less Area as the "invalid" marker.
// Self-intersections and unclosed rings are also recorded as Problems (when
// enabled); an inner ring with no enclosing outer is not recorded.
func (a *Assembler) Assemble(relation Relation, ways []Way) Area {
	a.segments = a.segments[:0]
	a.rings = a.rings[:0]

	result := Area{
		ID:        relation.ID*2 + 1,
		Version:   relation.Version,
		Changeset: relation.Changeset,
		Timestamp: relation.Timestamp,
		Visible:   relation.Visible,
		UID:       relation.UID,
		User:      relation.User,
		Tags:      relation.Tags,
	}

	a.segments = ExtractSegments(ways)
	if a.debug {
		logger.Get().Debug("area: build",
			zap.Int64("relation", relation.ID),
			zap.Int("members", len(ways)),
			zap.Int("segments", len(a.segments)))
	}

	a.segments = SortAndDedupe(a.segments)

	// An Area with no rings is, by definition, invalid. If a later step
	// fails, this is the Area the caller ends up with — deliberately
	// visible rather than withheld, so downstream consumers still see a
	// (invalid) record for the relation.
	if a.findIntersections() {
		return result
	}

	a.buildRings()

	if a.checkForOpenRings() {
		a.debugf("not all rings are closed")
		return result
	}

	outers, ok := a.resolveNesting()
	if !ok {
		return result
	}

	result.Outer = emitRings(outers)
	return result
}

// emitRings converts the assembler's internal outer-ring list (each with
// its attached inner rings) into the Area's exported Ring tree.
func emitRings(outers []*ProtoRing) []Ring {
	rings := make([]Ring, 0, len(outers))
	for _, outer := range outers {
		ring := Ring{Nodes: append([]NodeRef(nil), outer.Nodes()...)}
		for _, inner := range outer.Inner() {
			ring.Inner = append(ring.Inner, Ring{Nodes: append([]NodeRef(nil), inner.Nodes()...)})
		}
		rings = append(rings, ring)
	}
	return rings
}
