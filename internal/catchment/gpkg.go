package catchment

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/kmfadden/gridforce/internal/logging"
)

// DefaultLayer is the hydrofabric layer holding divide polygons.
const DefaultLayer = "divides"

// LoadGeoPackage reads divide polygons from a GeoPackage layer. The layer
// must carry a divide_id column and a registered geometry column; the set's
// CRS is resolved from gpkg_spatial_ref_sys.
func LoadGeoPackage(ctx context.Context, path, layer string) (*Set, error) {
	if layer == "" {
		layer = DefaultLayer
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open geopackage: %w", err)
	}
	defer db.Close()

	geomCol, srsID, err := geometryColumn(ctx, db, layer)
	if err != nil {
		return nil, err
	}

	var crsWKT string
	err = db.QueryRowContext(ctx,
		"SELECT definition FROM gpkg_spatial_ref_sys WHERE srs_id = ?", srsID,
	).Scan(&crsWKT)
	if err != nil {
		return nil, fmt.Errorf("resolve srs %d: %w", srsID, err)
	}

	// Column and layer names come from gpkg metadata tables, not user input.
	query := fmt.Sprintf(`SELECT divide_id, "%s" FROM "%s"`, geomCol, layer)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read layer %s: %w", layer, err)
	}
	defer rows.Close()

	var catchments []Catchment
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan divide row: %w", err)
		}
		geom, err := decodeGPKGGeometry(blob)
		if err != nil {
			return nil, fmt.Errorf("divide %s: %w", id, err)
		}
		mp, err := asMultiPolygon(geom)
		if err != nil {
			return nil, fmt.Errorf("divide %s: %w", id, err)
		}
		catchments = append(catchments, Catchment{DivideID: id, Geometry: mp})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read layer %s: %w", layer, err)
	}

	logging.Component("catchment").Info("loaded divides",
		"path", path, "layer", layer, "count", len(catchments))

	return NewSet(catchments, crsWKT)
}

func geometryColumn(ctx context.Context, db *sql.DB, layer string) (string, int, error) {
	var col string
	var srsID int
	err := db.QueryRowContext(ctx,
		"SELECT column_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?", layer,
	).Scan(&col, &srsID)
	if err != nil {
		return "", 0, fmt.Errorf("layer %s has no registered geometry column: %w", layer, err)
	}
	return col, srsID, nil
}

// decodeGPKGGeometry strips the GeoPackage binary header (magic, version,
// flags, srs id, optional envelope) and decodes the trailing WKB payload.
func decodeGPKGGeometry(blob []byte) (orb.Geometry, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, fmt.Errorf("not a geopackage geometry blob")
	}

	flags := blob[3]
	if flags&0x20 != 0 {
		return nil, fmt.Errorf("empty geometry")
	}

	var envelopeSize int
	switch (flags >> 1) & 0x07 {
	case 0:
		envelopeSize = 0
	case 1:
		envelopeSize = 32
	case 2, 3:
		envelopeSize = 48
	case 4:
		envelopeSize = 64
	default:
		return nil, fmt.Errorf("invalid envelope indicator %d", (flags>>1)&0x07)
	}

	// Header is magic(2) + version(1) + flags(1) + srs_id(4) + envelope.
	// The envelope itself is skipped; the WKB payload repeats the extent.
	offset := 8 + envelopeSize
	if len(blob) <= offset {
		return nil, fmt.Errorf("geometry blob truncated")
	}

	return wkb.Unmarshal(blob[offset:])
}

func asMultiPolygon(geom orb.Geometry) (orb.MultiPolygon, error) {
	switch g := geom.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{g}, nil
	case orb.MultiPolygon:
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %T, want polygon", geom)
	}
}
