package transform

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/wegman-software/osm2pgsql-go/internal/area"
	"github.com/wegman-software/osm2pgsql-go/internal/config"
	"github.com/wegman-software/osm2pgsql-go/internal/logger"
)

// Stats holds transformation statistics
type Stats struct {
	Points   int64
	Lines    int64
	Polygons int64
}

// Transformer uses DuckDB to build geometries from Parquet files
type Transformer struct {
	cfg *config.Config
	db  *sql.DB
}

// NewTransformer creates a new DuckDB transformer
func NewTransformer(cfg *config.Config) (*Transformer, error) {
	// Open DuckDB with memory limit
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	// Use a conservative memory limit (40% of specified) to leave room for OS and other processes
	// DuckDB will spill to disk when this limit is reached
	memLimit := cfg.MemoryMB * 40 / 100
	if memLimit < 4000 {
		memLimit = 4000 // Minimum 4GB
	}

	// Configure DuckDB for performance with disk spilling
	configs := []string{
		fmt.Sprintf("SET memory_limit='%dMB'", memLimit),
		fmt.Sprintf("SET threads=%d", cfg.Workers),
		fmt.Sprintf("SET temp_directory='%s'", filepath.Join(cfg.OutputDir, "duckdb_tmp")),
		"SET enable_progress_bar=true",
		"SET preserve_insertion_order=false", // Allows more parallel execution
		"INSTALL spatial",
		"LOAD spatial",
	}

	for _, c := range configs {
		if _, err := db.Exec(c); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure DuckDB (%s): %w", c, err)
		}
	}

	return &Transformer{
		cfg: cfg,
		db:  db,
	}, nil
}

// Close closes the DuckDB connection
func (t *Transformer) Close() error {
	return t.db.Close()
}

// Run executes the transformation
func (t *Transformer) Run() (*Stats, error) {
	stats := &Stats{}

	// Create temp directory for DuckDB spilling
	tmpDir := filepath.Join(t.cfg.OutputDir, "duckdb_tmp")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	// Create views for Parquet files
	if err := t.createViews(); err != nil {
		return nil, err
	}

	log := logger.Get()

	// Build point geometries (from nodes with tags)
	log.Info("Building point geometries")
	points, err := t.buildPoints()
	if err != nil {
		return nil, fmt.Errorf("failed to build points: %w", err)
	}
	stats.Points = points
	log.Info("Created points", zap.Int64("count", points))

	// Build line geometries (from ways)
	log.Info("Building line geometries")
	lines, err := t.buildLines()
	if err != nil {
		return nil, fmt.Errorf("failed to build lines: %w", err)
	}
	stats.Lines = lines
	log.Info("Created lines", zap.Int64("count", lines))

	// Build polygon geometries from closed ways
	log.Info("Building polygon geometries")
	wayPolygons, err := t.buildPolygons()
	if err != nil {
		return nil, fmt.Errorf("failed to build polygons: %w", err)
	}
	log.Info("Created way polygons", zap.Int64("count", wayPolygons))

	// Assemble multipolygon relations (area.Assembler) and merge them into
	// the same polygons output
	log.Info("Assembling multipolygon relations")
	relPolygons, err := t.buildMultipolygons()
	if err != nil {
		return nil, fmt.Errorf("failed to assemble multipolygon relations: %w", err)
	}
	log.Info("Created relation polygons", zap.Int64("count", relPolygons))
	stats.Polygons = wayPolygons + relPolygons

	return stats, nil
}

func (t *Transformer) createViews() error {
	views := map[string]string{
		"nodes":            filepath.Join(t.cfg.OutputDir, "nodes.parquet"),
		"ways":             filepath.Join(t.cfg.OutputDir, "ways.parquet"),
		"way_nodes":        filepath.Join(t.cfg.OutputDir, "way_nodes.parquet"),
		"relations":        filepath.Join(t.cfg.OutputDir, "relations.parquet"),
		"relation_members": filepath.Join(t.cfg.OutputDir, "relation_members.parquet"),
	}

	for name, path := range views {
		sql := fmt.Sprintf("CREATE VIEW %s AS SELECT * FROM read_parquet('%s')", name, path)
		if _, err := t.db.Exec(sql); err != nil {
			return fmt.Errorf("failed to create view %s: %w", name, err)
		}
	}

	return nil
}

func (t *Transformer) buildPoints() (int64, error) {
	outputPath := filepath.Join(t.cfg.OutputDir, "points.parquet")

	// Points are nodes with meaningful tags (not just metadata)
	// We filter out nodes that are just way vertices
	// Output geometry as WKT text for compatibility
	query := fmt.Sprintf(`
		COPY (
			SELECT
				n.id AS osm_id,
				'N' AS osm_type,
				n.tags,
				ST_AsText(ST_Point(n.lon, n.lat)) AS geom_wkt
			FROM nodes n
			WHERE n.tags != '{}'
			  AND n.tags NOT LIKE '%%"created_by"%%'
		) TO '%s' (FORMAT PARQUET, COMPRESSION ZSTD)
	`, outputPath)

	result, err := t.db.Exec(query)
	if err != nil {
		return 0, err
	}

	count, _ := result.RowsAffected()
	return count, nil
}

func (t *Transformer) buildLines() (int64, error) {
	outputPath := filepath.Join(t.cfg.OutputDir, "lines.parquet")

	// Build linestrings from ways by joining with nodes
	// This is the key join operation that was the bottleneck in osm2pgsql
	// Output geometry as WKT text for compatibility
	query := fmt.Sprintf(`
		COPY (
			WITH way_coords AS (
				SELECT
					wn.way_id,
					wn.seq,
					n.lon,
					n.lat
				FROM way_nodes wn
				JOIN nodes n ON wn.node_id = n.id
			),
			way_geoms AS (
				SELECT
					way_id,
					ST_MakeLine(
						list(ST_Point(lon, lat) ORDER BY seq)
					) AS geom
				FROM way_coords
				GROUP BY way_id
				HAVING count(*) >= 2
			)
			SELECT
				w.id AS osm_id,
				'W' AS osm_type,
				w.tags,
				ST_AsText(wg.geom) AS geom_wkt
			FROM ways w
			JOIN way_geoms wg ON w.id = wg.way_id
			WHERE NOT ST_IsClosed(wg.geom)
			   OR w.tags NOT LIKE '%%"area"%%'
		) TO '%s' (FORMAT PARQUET, COMPRESSION ZSTD)
	`, outputPath)

	result, err := t.db.Exec(query)
	if err != nil {
		return 0, err
	}

	count, _ := result.RowsAffected()
	return count, nil
}

// buildPolygons writes single-way polygons to a staging file; buildMultipolygons
// unions it with relation-assembled polygons into the final polygons.parquet.
func (t *Transformer) buildPolygons() (int64, error) {
	outputPath := t.wayPolygonsPath()

	// Build polygons from closed ways.
	// Output geometry as WKT text for compatibility
	query := fmt.Sprintf(`
		COPY (
			WITH way_coords AS (
				SELECT
					wn.way_id,
					wn.seq,
					n.lon,
					n.lat
				FROM way_nodes wn
				JOIN nodes n ON wn.node_id = n.id
			),
			way_geoms AS (
				SELECT
					way_id,
					ST_MakeLine(
						list(ST_Point(lon, lat) ORDER BY seq)
					) AS geom
				FROM way_coords
				GROUP BY way_id
				HAVING count(*) >= 4
			)
			SELECT
				w.id AS osm_id,
				'W' AS osm_type,
				w.tags,
				ST_AsText(ST_MakePolygon(wg.geom)) AS geom_wkt
			FROM ways w
			JOIN way_geoms wg ON w.id = wg.way_id
			WHERE ST_IsClosed(wg.geom)
			  AND ST_NPoints(wg.geom) >= 4
		) TO '%s' (FORMAT PARQUET, COMPRESSION ZSTD)
	`, outputPath)

	result, err := t.db.Exec(query)
	if err != nil {
		return 0, err
	}

	count, _ := result.RowsAffected()
	return count, nil
}

func (t *Transformer) wayPolygonsPath() string {
	return filepath.Join(t.cfg.OutputDir, "polygons_ways.parquet")
}

// relationPolygon is one assembled multipolygon relation, ready to insert
// into the polygons output.
type relationPolygon struct {
	osmID int64
	tags  string
	wkt   string
}

// buildMultipolygons assembles every multipolygon/boundary relation with
// the area package, then unions the result with the way-only polygons
// staged by buildPolygons into the final polygons.parquet. Returns the
// number of relation polygons produced (way polygons are counted by
// buildPolygons itself).
func (t *Transformer) buildMultipolygons() (int64, error) {
	relPolygons, err := t.assembleRelations()
	if err != nil {
		return 0, err
	}

	wayPath := t.wayPolygonsPath()
	finalPath := filepath.Join(t.cfg.OutputDir, "polygons.parquet")

	if _, err := t.db.Exec(`CREATE OR REPLACE TEMP TABLE relation_polygons (
		osm_id BIGINT, osm_type VARCHAR, tags VARCHAR, geom_wkt VARCHAR)`); err != nil {
		return 0, fmt.Errorf("failed to create relation_polygons table: %w", err)
	}

	if len(relPolygons) > 0 {
		rows := make([]string, len(relPolygons))
		for i, rp := range relPolygons {
			rows[i] = fmt.Sprintf("(%d, 'R', %s, %s)", rp.osmID, sqlQuote(rp.tags), sqlQuote(rp.wkt))
		}
		insert := "INSERT INTO relation_polygons VALUES " + strings.Join(rows, ",\n")
		if _, err := t.db.Exec(insert); err != nil {
			return 0, fmt.Errorf("failed to insert relation polygons: %w", err)
		}
	}

	query := fmt.Sprintf(`
		COPY (
			SELECT osm_id, osm_type, tags, geom_wkt FROM read_parquet('%s')
			UNION ALL
			SELECT osm_id, osm_type, tags, geom_wkt FROM relation_polygons
		) TO '%s' (FORMAT PARQUET, COMPRESSION ZSTD)
	`, wayPath, finalPath)

	if _, err := t.db.Exec(query); err != nil {
		return 0, err
	}
	os.Remove(wayPath)

	return int64(len(relPolygons)), nil
}

// assembleRelations reads every multipolygon/boundary relation's member
// ways (tags and ordered node coordinates) out of the Parquet-backed views
// and runs them through one area.Assembler, reused across relations the
// same way the PBF pipelines reuse one Assembler per relation-processing
// goroutine.
func (t *Transformer) assembleRelations() ([]relationPolygon, error) {
	rows, err := t.db.Query(`
		SELECT rm.relation_id, r.tags, rm.ref AS way_id, wn.seq, n.id, n.lon, n.lat
		FROM relation_members rm
		JOIN relations r ON r.id = rm.relation_id
		JOIN way_nodes wn ON wn.way_id = rm.ref
		JOIN nodes n ON n.id = wn.node_id
		WHERE rm.type = 'w'
		  AND (r.tags LIKE '%"type":"multipolygon"%' OR r.tags LIKE '%"type":"boundary"%')
		ORDER BY rm.relation_id, rm.ref, wn.seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query relation members: %w", err)
	}
	defer rows.Close()

	type relAccum struct {
		tags     string
		wayOrder []int64
		ways     map[int64][]area.NodeRef
	}
	relations := make(map[int64]*relAccum)
	relOrder := make([]int64, 0)

	for rows.Next() {
		var relID, wayID, nodeID int64
		var tags string
		var seq int32
		var lon, lat float64
		if err := rows.Scan(&relID, &tags, &wayID, &seq, &nodeID, &lon, &lat); err != nil {
			return nil, fmt.Errorf("failed to scan relation member row: %w", err)
		}

		rel, ok := relations[relID]
		if !ok {
			rel = &relAccum{tags: tags, ways: make(map[int64][]area.NodeRef)}
			relations[relID] = rel
			relOrder = append(relOrder, relID)
		}
		if _, ok := rel.ways[wayID]; !ok {
			rel.wayOrder = append(rel.wayOrder, wayID)
		}
		rel.ways[wayID] = append(rel.ways[wayID], area.NodeRef{ID: nodeID, Loc: area.ScaleLocation(lon, lat)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relation member query failed: %w", err)
	}

	assembler := area.NewAssembler()
	assembler.EnableDebugOutput(t.cfg.AreaDebug)
	assembler.RememberProblems(t.cfg.AreaProblems)
	log := logger.Get()

	results := make([]relationPolygon, 0, len(relOrder))
	for _, relID := range relOrder {
		rel := relations[relID]
		ways := make([]area.Way, 0, len(rel.wayOrder))
		for _, wayID := range rel.wayOrder {
			ways = append(ways, area.Way{ID: wayID, Nodes: rel.ways[wayID]})
		}

		assembled := assembler.Assemble(area.Relation{ID: relID}, ways)
		if t.cfg.AreaProblems {
			if problems := assembler.Problems(); len(problems) > 0 {
				log.Warn("area: malformed multipolygon",
					zap.Int64("relation", relID), zap.Int("problems", len(problems)))
				assembler.ClearProblems()
			}
		}

		polygons := area.ToRings(assembled)
		if len(polygons) == 0 {
			continue
		}

		results = append(results, relationPolygon{
			osmID: relID,
			tags:  rel.tags,
			wkt:   polygonsToWKT(polygons),
		})
	}

	return results, nil
}

// polygonsToWKT renders the area.ToRings flat-coordinate shape as WKT,
// choosing POLYGON for a single ring set and MULTIPOLYGON otherwise —
// matching the ST_AsText output buildPolygons already writes for ways.
func polygonsToWKT(polygons [][][]float64) string {
	if len(polygons) == 1 {
		return "POLYGON" + polygonRingsWKT(polygons[0])
	}
	parts := make([]string, len(polygons))
	for i, poly := range polygons {
		parts[i] = polygonRingsWKT(poly)
	}
	return "MULTIPOLYGON(" + strings.Join(parts, ",") + ")"
}

func polygonRingsWKT(rings [][]float64) string {
	parts := make([]string, len(rings))
	for i, ring := range rings {
		parts[i] = ringWKT(ring)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func ringWKT(flat []float64) string {
	pts := make([]string, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		pts = append(pts, strconv.FormatFloat(flat[i], 'f', -1, 64)+" "+strconv.FormatFloat(flat[i+1], 'f', -1, 64))
	}
	return "(" + strings.Join(pts, ",") + ")"
}

func sqlQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
