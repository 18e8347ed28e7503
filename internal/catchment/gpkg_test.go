package catchment

import (
	"context"
	"database/sql"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// gpkgBlob wraps WKB in a GeoPackage binary header. envelope selects the
// envelope indicator bits of the flags byte.
func gpkgBlob(t *testing.T, geom orb.Geometry, envelope byte) []byte {
	t.Helper()

	payload, err := wkb.Marshal(geom)
	if err != nil {
		t.Fatalf("marshal wkb: %v", err)
	}

	var envelopeSize int
	switch envelope {
	case 0:
		envelopeSize = 0
	case 1:
		envelopeSize = 32
	default:
		t.Fatalf("unsupported envelope indicator %d", envelope)
	}

	blob := make([]byte, 0, 8+envelopeSize+len(payload))
	blob = append(blob, 'G', 'P', 0, 0x01|envelope<<1) // version 0, little-endian
	blob = binary.LittleEndian.AppendUint32(blob, 5070)
	blob = append(blob, make([]byte, envelopeSize)...)
	return append(blob, payload...)
}

func TestDecodeGPKGGeometry(t *testing.T) {
	poly := orb.Polygon{orb.Ring{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}}

	for _, envelope := range []byte{0, 1} {
		geom, err := decodeGPKGGeometry(gpkgBlob(t, poly, envelope))
		if err != nil {
			t.Fatalf("envelope=%d: %v", envelope, err)
		}
		got, ok := geom.(orb.Polygon)
		if !ok {
			t.Fatalf("envelope=%d: decoded %T, want polygon", envelope, geom)
		}
		if !got.Equal(poly) {
			t.Errorf("envelope=%d: geometry mismatch", envelope)
		}
	}
}

func TestDecodeGPKGGeometry_BadBlob(t *testing.T) {
	if _, err := decodeGPKGGeometry([]byte("XX")); err == nil {
		t.Error("expected error for short blob")
	}
	if _, err := decodeGPKGGeometry([]byte("XXjunkjunkjunk")); err == nil {
		t.Error("expected error for wrong magic")
	}
	// Empty-geometry flag set.
	blob := gpkgBlob(t, orb.Polygon{orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, 0)
	blob[3] |= 0x20
	if _, err := decodeGPKGGeometry(blob); err == nil {
		t.Error("expected error for empty geometry flag")
	}
	// Header only, no payload.
	if _, err := decodeGPKGGeometry(blob[:8]); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestLoadGeoPackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydrofabric.gpkg")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	stmts := []string{
		`CREATE TABLE gpkg_spatial_ref_sys (srs_id INTEGER PRIMARY KEY, definition TEXT)`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT, column_name TEXT, srs_id INTEGER)`,
		`CREATE TABLE divides (divide_id TEXT, geom BLOB)`,
		`INSERT INTO gpkg_spatial_ref_sys VALUES (5070, 'PROJCS["NAD83 / Conus Albers"]')`,
		`INSERT INTO gpkg_geometry_columns VALUES ('divides', 'geom', 5070)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}

	polys := map[string]orb.Polygon{
		"cat-2": {orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
		"cat-1": {orb.Ring{{2, 0}, {3, 0}, {3, 1}, {2, 1}, {2, 0}}},
	}
	for id, p := range polys {
		if _, err := db.Exec(`INSERT INTO divides VALUES (?, ?)`, id, gpkgBlob(t, p, 1)); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	set, err := LoadGeoPackage(context.Background(), path, "divides")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if set.Len() != 2 {
		t.Fatalf("loaded %d divides, want 2", set.Len())
	}
	if ids := set.IDs(); ids[0] != "cat-1" || ids[1] != "cat-2" {
		t.Errorf("ids %v, want [cat-1 cat-2]", ids)
	}
	if set.CRSWKT() == "" {
		t.Error("crs not resolved")
	}
	mp := set.At(0).Geometry
	if len(mp) != 1 || !mp[0].Equal(polys["cat-1"]) {
		t.Error("cat-1 geometry mismatch")
	}
}

func TestLoadGeoPackage_MissingLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.gpkg")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE gpkg_geometry_columns (table_name TEXT, column_name TEXT, srs_id INTEGER)`); err != nil {
		t.Fatalf("exec: %v", err)
	}
	db.Close()

	if _, err := LoadGeoPackage(context.Background(), path, "divides"); err == nil {
		t.Fatal("expected error for missing layer")
	}
}
