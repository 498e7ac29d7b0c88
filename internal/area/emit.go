package area

import "github.com/wegman-software/osm2pgsql-go/internal/middle"

// ToRings converts an assembled Area into the flat-coordinate ring format
// the WKB encoder (internal/wkb) expects: one entry per outer ring, each a
// slice of rings (outer first, then its holes), each ring a flat
// [lon1, lat1, lon2, lat2, ...] array. Locations are unscaled from the
// assembler's fixed-point integers using the same × 10^7 convention the
// middle tables use for node storage.
func ToRings(a Area) [][][]float64 {
	if len(a.Outer) == 0 {
		return nil
	}

	polygons := make([][][]float64, 0, len(a.Outer))
	for _, outer := range a.Outer {
		poly := make([][]float64, 0, 1+len(outer.Inner))
		poly = append(poly, flattenRing(outer.Nodes))
		for _, inner := range outer.Inner {
			poly = append(poly, flattenRing(inner.Nodes))
		}
		polygons = append(polygons, poly)
	}
	return polygons
}

func flattenRing(nodes []NodeRef) []float64 {
	flat := make([]float64, 0, len(nodes)*2)
	for _, n := range nodes {
		flat = append(flat, middle.UnscaleCoord(n.Loc.X), middle.UnscaleCoord(n.Loc.Y))
	}
	return flat
}

// ScaleLocation builds a Location from unscaled lon/lat, using the same
// × 10^7 fixed-point convention as the middle tables.
func ScaleLocation(lon, lat float64) Location {
	return Location{X: middle.ScaleCoord(lon), Y: middle.ScaleCoord(lat)}
}
