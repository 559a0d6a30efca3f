package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rotblauer/admintiles/tiledb"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS tile_meta (
	z        SMALLINT NOT NULL,
	x        INTEGER NOT NULL,
	y        INTEGER NOT NULL,
	lon      DOUBLE PRECISION NOT NULL,
	lat      DOUBLE PRECISION NOT NULL,
	place_id BIGINT,
	region_id  BIGINT,
	country_id BIGINT,
	p_level  SMALLINT,
	r_level  SMALLINT,
	PRIMARY KEY (z, x, y)
)`

// Postgres stores tile documents in the tile_meta table.
type Postgres struct {
	DB *sqlx.DB
}

// OpenPostgres connects to dsn and creates tile_meta if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(time.Minute)
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tile_meta: %w", err)
	}
	return &Postgres{DB: db}, nil
}

func (p *Postgres) Close() error {
	return p.DB.Close()
}

// PutTiles copies tiles into a staging table and upserts them into
// tile_meta in one transaction.
func (p *Postgres) PutTiles(zoom int, tiles []tiledb.Tile) error {
	if len(tiles) == 0 {
		return nil
	}
	tx, err := p.DB.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`CREATE TEMP TABLE IF NOT EXISTS tile_meta_stage (LIKE tile_meta INCLUDING DEFAULTS) ON COMMIT DELETE ROWS`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(pq.CopyIn("tile_meta_stage",
		"z", "x", "y", "lon", "lat", "place_id", "region_id", "country_id", "p_level", "r_level"))
	if err != nil {
		return err
	}
	for _, t := range tiles {
		d := t.Doc
		if _, err := stmt.Exec(zoom, int64(t.X), int64(t.Y), d.Lon, d.Lat, d.P, d.R, d.L2, d.PLevel, d.RLevel); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy tile %s: %w", tiledb.TileKey(t.X, t.Y), err)
		}
	}
	if _, err := stmt.Exec(); err != nil {
		_ = stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	if _, err := tx.Exec(`
INSERT INTO tile_meta SELECT * FROM tile_meta_stage
ON CONFLICT (z, x, y) DO UPDATE SET
	lon = EXCLUDED.lon, lat = EXCLUDED.lat,
	place_id = EXCLUDED.place_id, region_id = EXCLUDED.region_id, country_id = EXCLUDED.country_id,
	p_level = EXCLUDED.p_level, r_level = EXCLUDED.r_level`); err != nil {
		return err
	}
	return tx.Commit()
}

// CountTiles returns the number of rows at zoom.
func (p *Postgres) CountTiles(zoom int) (int, error) {
	var n int
	err := p.DB.Get(&n, `SELECT count(*) FROM tile_meta WHERE z = $1`, zoom)
	return n, err
}
