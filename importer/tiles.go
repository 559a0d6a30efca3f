// Package importer loads finished tile CSVs and admin area names into a store.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotblauer/admintiles/common"
	"github.com/rotblauer/admintiles/params"
	"github.com/rotblauer/admintiles/sink"
	"github.com/rotblauer/admintiles/stream"
	"github.com/rotblauer/admintiles/tiledb"
)

var ErrMissingColumns = errors.New("csv missing columns")

type TilesOptions struct {
	BatchSize int
	// ProgressEvery logs a progress line every N rows; zero disables it.
	// Bad rows are logged individually when it is at most 1000.
	ProgressEvery int
	DryRun        bool
	Logger        *slog.Logger
}

func DefaultTilesOptions() TilesOptions {
	return TilesOptions{
		BatchSize:     params.DefaultBatchSize,
		ProgressEvery: params.DefaultProgressEvery,
	}
}

type TilesStats struct {
	Rows     int64
	Written  int64
	SkippedZ int64
	Bad      int64
	Dups     int64
	Elapsed  time.Duration
}

// ImportTilesCSV reads a tile CSV and writes the rows at zoom to store in
// batches. Rows at other zooms, malformed rows and repeated x_y keys are
// skipped and counted. A dry run parses and counts but writes nothing.
func ImportTilesCSV(ctx context.Context, r io.Reader, zoom int, store sink.TileStore, opts TilesOptions) (*TilesStats, error) {
	log := opts.Logger
	if log == nil {
		log = slog.With("component", "import", "kind", "tiles")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = params.DefaultBatchSize
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := time.Now()
	meter := stream.NewTickMeter("Importing tiles", 0, log)
	defer meter.Stop()

	st := &TilesStats{}
	progress := func() {
		dt := time.Since(started)
		log.Info("Progress",
			"rows", humanize.Comma(meter.Count("rows")),
			"written", humanize.Comma(meter.Count("written")),
			"skipped.z", humanize.Comma(meter.Count("skipped.z")),
			"bad", humanize.Comma(meter.Count("bad")),
			"dups", humanize.Comma(meter.Count("dups")),
			"elapsed", dt.Round(100*time.Millisecond),
			"rate", common.Rate(meter.Count("written"), dt))
	}

	docs := make(chan tiledb.Tile)
	readErr := make(chan error, 1)
	go func() {
		defer close(docs)
		seen := map[string]struct{}{}
		var rows int64
		for {
			rec, err := cr.Read()
			if errors.Is(err, io.EOF) {
				readErr <- nil
				return
			}
			var perr *csv.ParseError
			if err != nil && !errors.As(err, &perr) {
				readErr <- err
				return
			}
			rows++
			meter.Mark("rows", 1)

			var tile tiledb.Tile
			if err == nil {
				tile, err = parseRow(rec, idx, zoom)
			}
			switch {
			case errors.Is(err, errOtherZoom):
				meter.Mark("skipped.z", 1)
			case err != nil:
				meter.Mark("bad", 1)
				if opts.ProgressEvery <= 1000 {
					log.Warn("Skip row", "row", rows, "error", err)
				}
			default:
				key := tiledb.TileKey(tile.X, tile.Y)
				if _, ok := seen[key]; ok {
					meter.Mark("dups", 1)
					break
				}
				seen[key] = struct{}{}
				if opts.DryRun {
					break
				}
				select {
				case <-ctx.Done():
					readErr <- ctx.Err()
					return
				case docs <- tile:
				}
			}
			if opts.ProgressEvery > 0 && rows%int64(opts.ProgressEvery) == 0 {
				progress()
			}
		}
	}()

	var writeErr error
	for batch := range stream.Batch(ctx, opts.BatchSize, docs) {
		if err := store.PutTiles(zoom, batch); err != nil {
			writeErr = fmt.Errorf("write batch: %w", err)
			cancel()
			break
		}
		meter.Mark("written", int64(len(batch)))
		dt := time.Since(started)
		log.Info("Committed", "batch", len(batch),
			"total", humanize.Comma(meter.Count("written")),
			"elapsed", dt.Round(100*time.Millisecond),
			"rate", common.Rate(meter.Count("written"), dt))
	}
	// Unblock the reader if the batcher stopped early.
	for range docs {
	}
	err = <-readErr

	st.Rows = meter.Count("rows")
	st.Written = meter.Count("written")
	st.SkippedZ = meter.Count("skipped.z")
	st.Bad = meter.Count("bad")
	st.Dups = meter.Count("dups")
	st.Elapsed = time.Since(started)

	if writeErr != nil {
		return st, writeErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return st, fmt.Errorf("read csv: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return st, err
	}
	log.Info("Import done", "dry_run", opts.DryRun,
		"rows", humanize.Comma(st.Rows), "written", humanize.Comma(st.Written),
		"skipped.z", st.SkippedZ, "bad", st.Bad, "dups", st.Dups,
		"elapsed", st.Elapsed.Round(100*time.Millisecond))
	return st, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	var missing []string
	for _, k := range sink.Header {
		if _, ok := idx[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return idx, nil
}

var errOtherZoom = errors.New("other zoom")

// parseRow returns errOtherZoom for rows at another zoom before checking
// any other field.
func parseRow(rec []string, idx map[string]int, zoom int) (tiledb.Tile, error) {
	var t tiledb.Tile
	col := func(k string) string {
		if i := idx[k]; i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	z, err := strconv.Atoi(col("z"))
	if err != nil {
		return t, fmt.Errorf("z: %w", err)
	}
	if z != zoom {
		return t, errOtherZoom
	}
	x, err := strconv.ParseUint(col("x"), 10, 32)
	if err != nil {
		return t, fmt.Errorf("x: %w", err)
	}
	y, err := strconv.ParseUint(col("y"), 10, 32)
	if err != nil {
		return t, fmt.Errorf("y: %w", err)
	}
	t.X, t.Y = uint32(x), uint32(y)
	if t.Doc.Lon, err = parseFloat(col("lon")); err != nil {
		return t, fmt.Errorf("lon: %w", err)
	}
	if t.Doc.Lat, err = parseFloat(col("lat")); err != nil {
		return t, fmt.Errorf("lat: %w", err)
	}
	if t.Doc.P, err = optInt64(col("place_id")); err != nil {
		return t, fmt.Errorf("place_id: %w", err)
	}
	if t.Doc.R, err = optInt64(col("region_id")); err != nil {
		return t, fmt.Errorf("region_id: %w", err)
	}
	if t.Doc.L2, err = optInt64(col("country_id")); err != nil {
		return t, fmt.Errorf("country_id: %w", err)
	}
	if t.Doc.PLevel, err = optInt(col("p_level")); err != nil {
		return t, fmt.Errorf("p_level: %w", err)
	}
	if t.Doc.RLevel, err = optInt(col("r_level")); err != nil {
		return t, fmt.Errorf("r_level: %w", err)
	}
	return t, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not finite: %q", s)
	}
	return v, nil
}

func optInt64(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
