/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/api"
	"github.com/rotblauer/admintiles/common"
	"github.com/rotblauer/admintiles/params"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// tilesCmd represents the tiles command
var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "Build the tile index for a boundary export",
	Long: `
Reads an admin boundary export, picks the place/region/country levels,
checks place coverage, then rasterizes every place unit into tiles at the
given zoom. Each tile is written once, owned by the first unit whose polygon
strictly contains its centre.

Output is a CSV named <out-prefix>_<country id>.csv in --out-dir, plus the
tile DB and Postgres when configured.

Flags:

  --place-level   Force the place level. Disables the country cascade.
  --region-level  Force the region level; 0 means no region tier.
  --iso           Country (XX) or subdivision (XX-NN) key for the country table.
  --workers       Rasterize units of one level in parallel.

Exit codes: 2 usage, 3 no features, 5 coverage failure, 6 tile count failure.

Examples:

  admintiles tiles --geojson finland.geojsonseq --z 14 --tiledb ~/.admintiles/tiles.db
  admintiles tiles --geojson portugal.geojson.gz --iso PT-20 --gzip
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		job, err := newJob()
		if err != nil {
			exit(err)
		}
		ctx, cancel := common.InterruptContext(context.Background(), nil)
		defer cancel()

		rep, err := job.Run(ctx)
		if rep != nil && rep.Stats != nil {
			printStats(os.Stdout, rep)
		}
		exit(err)
	},
}

// levelsCmd represents the levels command
var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Print the level plan and coverage for a boundary export",
	Long: `
Runs everything up to rasterization: reads the export, prints the feature
counts per level, the chosen plan and the coverage check. Nothing is written.
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		job, err := newJob()
		if err != nil {
			exit(err)
		}
		ctx, cancel := common.InterruptContext(context.Background(), nil)
		defer cancel()

		rep, _, err := job.Plan(ctx)
		if rep != nil {
			printPlan(os.Stdout, rep)
		}
		exit(err)
	},
}

func init() {
	rootCmd.AddCommand(tilesCmd)
	rootCmd.AddCommand(levelsCmd)

	def := params.DefaultRunConfig()
	for _, c := range []*cobra.Command{tilesCmd, levelsCmd} {
		addRunFlags(c.Flags(), def)
	}
	tilesCmd.Flags().String("out-dir", def.OutDir, "Output directory")
	tilesCmd.Flags().String("out-prefix", "", "Output file prefix (default z<Z>_level248_ids)")
	tilesCmd.Flags().Bool("gzip", false, "Gzip the output CSV")
	tilesCmd.Flags().Int("workers", def.Workers, "Number of workers to rasterize units of a level")
	tilesCmd.Flags().Int("early-abort-floor", def.EarlyAbortFloor, "Candidates tested before a unit may abort")
	tilesCmd.Flags().Int("early-abort-ratio", def.EarlyAbortRatio, "Candidates per accepted tile that abort a unit")
	tilesCmd.Flags().String("tiledb", "", "Also write tiles to this tile DB")
	tilesCmd.Flags().String("pg", "", "Also upsert tiles into this Postgres DSN")
	tilesCmd.Flags().String("s3-bucket", params.AWS_BUCKETNAME, "Upload the CSV to this bucket")
	tilesCmd.Flags().Bool("influx", false, "Export the run summary to InfluxDB")
}

// addRunFlags adds the flags shared by commands that read a boundary export.
func addRunFlags(fs *pflag.FlagSet, def *params.RunConfig) {
	fs.String("geojson", "", "Boundary export (.geojsonseq, .ndjson, .geojson, optionally .gz)")
	fs.Int("z", def.Zoom, "Tile zoom")
	fs.Int("place-level", 0, "Place level override")
	fs.Int("region-level", 0, "Region level override, 0 for none")
	fs.Int64("country-id", 0, "Country id override")
	fs.String("iso", "", "Country or subdivision key override, e.g. FI or PT-20")
	fs.Bool("infer-country", false, "Reverse geocode the country when the export has no code")
	fs.String("countries", "", "Country table file replacing the built-in one")
	fs.IntSlice("accepted-levels", levelInts(def.AcceptedLevels), "Admin levels kept at ingest")
}

// newJob builds a job from flags, env and the config file.
func newJob() (*api.Job, error) {
	cfg := params.DefaultRunConfig()
	cfg.Input = viper.GetString("geojson")
	if viper.IsSet("z") {
		cfg.Zoom = viper.GetInt("z")
	}
	cfg.PlaceLevel = admin.Level(viper.GetInt("place-level"))
	if viper.IsSet("region-level") {
		l := admin.Level(viper.GetInt("region-level"))
		cfg.RegionLevel = &l
	}
	if viper.IsSet("country-id") {
		id := viper.GetInt64("country-id")
		cfg.CountryID = &id
	}
	cfg.ISO = viper.GetString("iso")
	cfg.InferCountry = viper.GetBool("infer-country")
	if ls := viper.GetIntSlice("accepted-levels"); len(ls) > 0 {
		cfg.AcceptedLevels = cfg.AcceptedLevels[:0]
		for _, l := range ls {
			cfg.AcceptedLevels = append(cfg.AcceptedLevels, admin.Level(l))
		}
	}
	if viper.IsSet("out-dir") {
		cfg.OutDir = viper.GetString("out-dir")
	}
	cfg.OutPrefix = viper.GetString("out-prefix")
	cfg.GzipCSV = viper.GetBool("gzip")
	if viper.IsSet("workers") {
		cfg.Workers = viper.GetInt("workers")
	}
	if viper.IsSet("early-abort-floor") {
		cfg.EarlyAbortFloor = viper.GetInt("early-abort-floor")
	}
	if viper.IsSet("early-abort-ratio") {
		cfg.EarlyAbortRatio = viper.GetInt("early-abort-ratio")
	}
	cfg.TileDBPath = viper.GetString("tiledb")
	cfg.PostgresDSN = viper.GetString("pg")
	cfg.S3Bucket = viper.GetString("s3-bucket")
	cfg.Influx = viper.GetBool("influx")

	countries := params.DefaultCountryTable()
	if p := viper.GetString("countries"); p != "" {
		t, err := params.LoadCountryTable(p)
		if err != nil {
			return nil, err
		}
		countries = t
	}
	return api.NewJob(cfg, countries), nil
}

// exit logs err and exits with its exit code.
func exit(err error) {
	if err != nil {
		slog.Error("Failed", "error", err)
	}
	os.Exit(api.ExitCode(err))
}

func printPlan(w io.Writer, rep *api.Report) {
	fmt.Fprintf(w, "country:  %s", orDash(rep.CountryKey))
	if rep.Subdivision != "" {
		fmt.Fprintf(w, " (%s)", rep.Subdivision)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "features: %s read, %s accepted\n", humanize.Comma(int64(rep.Read)), humanize.Comma(int64(rep.Accepted)))
	for _, l := range slices.Sorted(maps.Keys(rep.Counts)) {
		fmt.Fprintf(w, "  L%-2d %s\n", l, humanize.Comma(int64(rep.Counts[l])))
	}
	for _, reason := range slices.Sorted(maps.Keys(rep.Rejected)) {
		fmt.Fprintf(w, "  rejected %s: %d\n", reason, rep.Rejected[reason])
	}
	fmt.Fprintf(w, "plan:     %s (%s)\n", rep.Plan.String(), rep.Plan.Source)
	switch cov := rep.Coverage; {
	case cov == nil:
		fmt.Fprintln(w, "coverage: not checked")
	case cov.Skipped:
		fmt.Fprintf(w, "coverage: skipped, %s\n", cov.SkipReason)
	default:
		fmt.Fprintf(w, "coverage: L%d/L%d %.2f%% (min %.0f%%)\n",
			cov.PlaceLevel, cov.BaselineLevel, cov.Ratio*100, cov.Min*100)
	}
	if e := rep.Expectation; e != nil {
		fmt.Fprintf(w, "expected: %s tiles at z%d ±%.0f%%\n", humanize.Comma(int64(e.Expected)), e.Zoom, e.Tol()*100)
	}
	if rep.CSVPath != "" {
		fmt.Fprintf(w, "output:   %s\n", rep.CSVPath)
	}
}

func printStats(w io.Writer, rep *api.Report) {
	printPlan(w, rep)
	st := rep.Stats
	for _, l := range st.Levels {
		fmt.Fprintf(w, "  L%-2d units=%d accepted=%s candidates=%s aborted=%d median=%.0f p95=%.0f max=%.0f\n",
			l.Level, l.Units, humanize.Comma(l.Accepted), humanize.Comma(l.Candidates),
			l.Aborted, l.MedianTiles, l.P95Tiles, l.MaxTiles)
	}
	fmt.Fprintf(w, "tiles:    %s in %s\n", humanize.Comma(st.Accepted), rep.Duration.Round(time.Millisecond))
	if tc := rep.TileCount; tc != nil {
		fmt.Fprintf(w, "count:    %d vs %d expected (%.2f%%)\n", tc.Emitted, tc.Expected, tc.Diff*100)
	}
}

func levelInts(ls []admin.Level) []int {
	out := make([]int, len(ls))
	for i, l := range ls {
		out[i] = int(l)
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
