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
	"errors"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/rotblauer/admintiles/api"
	"github.com/rotblauer/admintiles/common"
	"github.com/rotblauer/admintiles/importer"
	"github.com/rotblauer/admintiles/params"
	"github.com/rotblauer/admintiles/sink"
	"github.com/rotblauer/admintiles/tiledb"
	"github.com/rotblauer/admintiles/tilez"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errNoStore = errors.New("no store: set --tiledb or --pg")

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a tile CSV into the tile DB or Postgres",
	Long: `
Reads a tile CSV as written by 'admintiles tiles' (gzipped or not, or - for stdin)
and writes the rows at --z to the store, keyed x_y, in batches.
Rows at other zooms, malformed rows and repeated x_y keys are skipped and counted.

The first interrupt stops the import after the current batch, the second exits.

Examples:

  admintiles import --tiles-csv z14_level248_ids_54224.csv --tiledb ~/.admintiles/tiles.db
  zcat z14_level248_ids_54224.csv.gz | admintiles import --tiles-csv - --pg postgres://localhost/tiles
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		ctx, cancel := common.InterruptContext(context.Background(), func() {
			log.Fatalln("Force exit")
		})
		defer cancel()

		var in io.ReadCloser = os.Stdin
		if p := viper.GetString("tiles-csv"); p != "-" {
			f, err := tilez.Open(p)
			if err != nil {
				exit(err)
			}
			in = f
		}
		defer in.Close()

		store, closeStore, err := openTileStore(ctx)
		if errors.Is(err, errNoStore) {
			slog.Error("Failed", "error", err)
			os.Exit(api.ExitUsage)
		}
		if err != nil {
			exit(err)
		}

		opts := importer.DefaultTilesOptions()
		opts.BatchSize = viper.GetInt("batch-size")
		opts.ProgressEvery = viper.GetInt("progress-every")
		opts.DryRun = viper.GetBool("dry-run")
		st, err := importer.ImportTilesCSV(ctx, in, viper.GetInt("z"), store, opts)
		if cerr := closeStore(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		if st != nil {
			slog.Info("Import done", "rows", humanize.Comma(st.Rows),
				"written", humanize.Comma(st.Written), "bad", st.Bad, "dups", st.Dups)
		}
		exit(err)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("tiles-csv", "-", "Tile CSV to import, - for stdin")
	importCmd.Flags().Int("z", params.DefaultZoom, "Zoom of the rows to import")
	importCmd.Flags().String("tiledb", params.DefaultTileDBPath, "Tile DB path")
	importCmd.Flags().String("pg", "", "Postgres DSN, used instead of the tile DB")
	importCmd.Flags().Int("batch-size", params.DefaultBatchSize, "Rows per write")
	importCmd.Flags().Int("progress-every", params.DefaultProgressEvery, "Log progress every N rows")
	importCmd.Flags().Bool("dry-run", false, "Parse and count without writing")
}

// openTileStore opens Postgres when --pg is set, else the tile DB.
func openTileStore(ctx context.Context) (sink.TileStore, func() error, error) {
	if dsn := viper.GetString("pg"); dsn != "" {
		pg, err := sink.OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	p := viper.GetString("tiledb")
	if p == "" {
		return nil, nil, errNoStore
	}
	db, err := tiledb.Open(p, tiledb.Options{})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Opened tile DB", "path", db.Path())
	return db, db.Close, nil
}
