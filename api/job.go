package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/coverage"
	"github.com/rotblauer/admintiles/geom"
	"github.com/rotblauer/admintiles/ingest"
	"github.com/rotblauer/admintiles/levels"
	"github.com/rotblauer/admintiles/lookup"
	"github.com/rotblauer/admintiles/metrics/influxdb"
	"github.com/rotblauer/admintiles/params"
	"github.com/rotblauer/admintiles/publish"
	"github.com/rotblauer/admintiles/raster"
	"github.com/rotblauer/admintiles/rgeo"
	"github.com/rotblauer/admintiles/sink"
	"github.com/rotblauer/admintiles/tiledb"
)

// Job is one tile index build for one boundary export.
type Job struct {
	Config    *params.RunConfig
	Countries *params.CountryTable
	Logger    *slog.Logger

	// Geocode resolves a country code for a point when inference is enabled.
	// Nil uses the built-in reverse geocoder.
	Geocode func(orb.Point) (string, error)

	// TickInterval is the progress log interval; zero disables progress logs.
	TickInterval time.Duration
}

func NewJob(cfg *params.RunConfig, countries *params.CountryTable) *Job {
	return &Job{
		Config:       cfg,
		Countries:    countries,
		Logger:       slog.With("component", "job"),
		TickInterval: 10 * time.Second,
	}
}

func (j *Job) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

// Plan reads the input and resolves the level plan and the coverage gate,
// without rasterizing. The returned error is the coverage failure, if any;
// the report is filled in either way.
func (j *Job) Plan(ctx context.Context) (*Report, *admin.Groups, error) {
	if err := j.Config.Validate(); err != nil {
		return nil, nil, err
	}
	if j.Countries == nil {
		j.Countries = params.DefaultCountryTable()
	}
	cfg := j.Config
	log := j.logger()

	res, err := ingest.ReadFile(ctx, cfg.Input, ingest.Options{
		Accepted:     admin.NewLevelSet(cfg.AcceptedLevels...),
		TickInterval: j.TickInterval,
	})
	if err != nil {
		return nil, nil, err
	}
	rep := &Report{
		Read:        res.Read,
		Accepted:    res.Groups.Len(),
		Rejected:    res.Rejected,
		Counts:      res.Groups.Counts(),
		CountryKey:  j.countryKey(res),
		Subdivision: res.Subdivision,
	}
	if len(cfg.ISO) > 2 {
		rep.Subdivision = strings.ToUpper(cfg.ISO)
	}

	rep.Plan = levels.Select(levels.Input{
		Counts:         rep.Counts,
		CountryKey:     rep.CountryKey,
		SubdivisionKey: rep.Subdivision,
		Overrides:      levels.Overrides{Place: cfg.PlaceLevel, Region: cfg.RegionLevel},
		Table:          j.Countries,
	})
	log.Info("Level plan", "iso", rep.CountryKey, "subdivision", rep.Subdivision,
		"plan", rep.Plan.String(), "source", rep.Plan.Source, "counts", rep.Counts)
	if rep.Plan.Region != nil && res.Groups.Count(*rep.Plan.Region) == 0 {
		log.Warn("Region level has no features; region ids will be empty", "level", *rep.Plan.Region)
	}

	if exp, ok := j.Countries.Expectation(rep.CountryKey, cfg.Zoom); ok {
		rep.Expectation = &exp
	}
	if ok, reason := coverage.ShouldValidate(rep.Plan, rep.Expectation); !ok {
		log.Info("Coverage check skipped", "reason", reason)
	} else {
		cov, err := coverage.Validate(res.Groups, rep.Plan.Place, j.Countries.Coverage(rep.CountryKey))
		rep.Coverage = &cov
		switch {
		case cov.Skipped:
			log.Warn("Coverage check skipped", "reason", cov.SkipReason)
		case cov.BaselineFallback:
			log.Warn("Coverage baseline empty, fell back to country level", "level", cov.BaselineLevel)
		}
		if err != nil {
			log.Error("Coverage check failed", "place", cov.PlaceLevel, "baseline", cov.BaselineLevel,
				"ratio", fmt.Sprintf("%.2f%%", cov.Ratio*100), "min", cov.Min)
			return rep, res.Groups, err
		}
		if !cov.Skipped {
			log.Info("Coverage ok", "place", cov.PlaceLevel, "baseline", cov.BaselineLevel,
				"ratio", fmt.Sprintf("%.2f%%", cov.Ratio*100))
		}
	}

	rep.CountryID = j.countryID(res.Groups, rep.Plan)
	key := params.UnknownCountryKey
	if rep.CountryID != nil {
		key = fmt.Sprint(*rep.CountryID)
	}
	rep.CSVPath = cfg.OutputPath(key)
	return rep, res.Groups, nil
}

// countryKey is the ISO override, else the sniffed code, else an inferred one.
func (j *Job) countryKey(res *ingest.Result) string {
	cfg := j.Config
	if cfg.ISO != "" {
		return strings.ToUpper(cfg.ISO[:2])
	}
	if res.Country != "" || !cfg.InferCountry {
		return res.Country
	}
	var pt orb.Point
	var ok bool
	for _, l := range res.Groups.Levels() {
		if fs := res.Groups.Features(l); len(fs) > 0 {
			pt, ok = geom.NewShape(fs[0].Polygons()...).RepresentativePoint()
			break
		}
	}
	if !ok {
		return ""
	}
	geocode := j.Geocode
	if geocode == nil {
		geocode = rgeo.CountryCode
	}
	code, err := geocode(pt)
	if err != nil {
		j.logger().Warn("Country inference failed", "point", pt, "error", err)
		return ""
	}
	j.logger().Info("Inferred country", "iso", code, "point", pt)
	return code
}

// countryID is the configured id, else one derived from the country features.
func (j *Job) countryID(groups *admin.Groups, plan levels.Plan) *int64 {
	if j.Config.CountryID != nil {
		id := *j.Config.CountryID
		return &id
	}
	if id, ok := lookup.DeriveCountryID(groups, plan.FirstPlaceLevel()); ok {
		return &id
	}
	j.logger().Warn("No country id; country ids will be empty")
	return nil
}

// Run builds the tile index and writes it to the configured sinks.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	rep, groups, err := j.Plan(ctx)
	if err != nil {
		return rep, err
	}
	cfg := j.Config
	log := j.logger()

	var meta *tiledb.RunMeta
	if meta, err = tiledb.NewRunMeta(cfg); err != nil {
		return rep, err
	}
	rep.RunID = meta.RunID
	rep.Fingerprint = meta.Fingerprint

	out, db, closeStores, err := j.openSinks(ctx, rep)
	if err != nil {
		return rep, err
	}
	defer closeStores()

	in := raster.RunInput{
		Levels:    rep.Plan.RunLevels(),
		Groups:    groups,
		Countries: lookup.NewCountry(lookup.NewTier(rep.Plan.CountryLevel, groups.Features(rep.Plan.CountryLevel)), rep.CountryID),
	}
	if rep.Plan.Region != nil {
		in.Regions = lookup.NewTier(*rep.Plan.Region, groups.Features(*rep.Plan.Region))
	}

	engine := raster.NewEngine(cfg.Zoom)
	engine.EarlyAbortFloor = cfg.EarlyAbortFloor
	engine.EarlyAbortRatio = cfg.EarlyAbortRatio
	engine.Workers = cfg.Workers
	engine.TickInterval = j.TickInterval

	var claims raster.ClaimSet = raster.NewClaimSet()
	if cfg.Workers > 1 {
		claims = raster.NewSyncClaimSet()
	}

	async := sink.NewAsync(out, params.DefaultBufferSize)
	rep.Stats, err = engine.Run(ctx, in, claims, async.Write)
	closeErr := async.Close()
	if err = errors.Join(err, closeErr); err != nil {
		return rep, err
	}
	rep.Duration = time.Since(started)
	log.Info("Tiles written", "path", rep.CSVPath,
		"tiles", humanize.Comma(rep.Stats.Accepted),
		"candidates", humanize.Comma(rep.Stats.Candidates),
		"elapsed", rep.Duration.Round(time.Millisecond))

	if rep.Expectation != nil {
		tc, err := coverage.CheckTileCount(*rep.Expectation, int(rep.Stats.Accepted))
		rep.TileCount = &tc
		if err != nil {
			log.Error("Tile count out of tolerance", "zoom", tc.Zoom, "expected", tc.Expected,
				"emitted", tc.Emitted, "diff", fmt.Sprintf("%.2f%%", tc.Diff*100),
				"tolerance", fmt.Sprintf("%.0f%%", tc.Tolerance*100))
			return rep, err
		}
		log.Info("Tile count ok", "expected", tc.Expected, "emitted", tc.Emitted,
			"diff", fmt.Sprintf("%.2f%%", tc.Diff*100))
	}

	j.postRun(ctx, rep, db, meta)
	return rep, nil
}

// openSinks opens the CSV and any configured stores. The returned func
// closes the stores; the sink itself is closed by the caller.
// The tile DB is nil unless configured.
func (j *Job) openSinks(ctx context.Context, rep *Report) (sink.Sink, *tiledb.DB, func(), error) {
	cfg := j.Config
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				j.logger().Warn("Close store", "error", err)
			}
		}
	}

	csvSink, err := sink.NewCSV(rep.CSVPath)
	if err != nil {
		return nil, nil, closeAll, err
	}
	out := sink.Multi{csvSink}

	var db *tiledb.DB
	if cfg.TileDBPath != "" {
		db, err = tiledb.Open(cfg.TileDBPath, tiledb.Options{})
		if err != nil {
			_ = csvSink.Close()
			return nil, nil, closeAll, err
		}
		closers = append(closers, db.Close)
		out = append(out, sink.NewBatched(db, cfg.Zoom, params.DefaultBatchSize))
		rep.TileDBPath = db.Path()
	}
	if cfg.PostgresDSN != "" {
		pg, err := sink.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			_ = csvSink.Close()
			closeAll()
			return nil, nil, func() {}, err
		}
		closers = append(closers, pg.Close)
		out = append(out, sink.NewBatched(pg, cfg.Zoom, params.DefaultBatchSize))
	}
	return out, db, closeAll, nil
}

// postRun runs the optional steps after a good build. Failures are logged.
func (j *Job) postRun(ctx context.Context, rep *Report, db *tiledb.DB, meta *tiledb.RunMeta) {
	cfg := j.Config
	log := j.logger()

	if cfg.S3Bucket != "" {
		if err := publish.UploadS3(ctx, cfg.S3Bucket, publish.Key(rep.CSVPath), rep.CSVPath); err != nil {
			log.Warn("S3 upload failed", "error", err)
		} else {
			rep.Uploaded = true
		}
	}
	if cfg.Influx {
		if err := influxdb.ExportRun(rep.InfluxRun()); err != nil {
			log.Warn("InfluxDB export failed", "error", err)
		}
	}
	if db != nil {
		meta.Country = rep.CountryKey
		meta.Tiles = rep.Stats.Accepted
		meta.Plan = rep.Plan.String()
		meta.Finished = time.Now().UTC()
		if err := db.PutRunMeta(meta); err != nil {
			log.Warn("Record run failed", "error", err)
		}
	}
}
