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

	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/common"
	"github.com/rotblauer/admintiles/importer"
	"github.com/rotblauer/admintiles/params"
	"github.com/rotblauer/admintiles/tiledb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// adminsCmd represents the admins command
var adminsCmd = &cobra.Command{
	Use:   "admins",
	Short: "Import admin area names into the tile DB",
	Long: `
Imports one document per admin area, keyed l<level>_<id>, with its display
name and all name:<lang> names. The input is either a boundary export or a
JSON object of documents keyed the same way. Names merge per language with
what is already stored.

Examples:

  admintiles admins --admins-json finland.geojsonseq --tiledb ~/.admintiles/tiles.db
  admintiles admins --admins-json admins.json --dry-run
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		ctx, cancel := common.InterruptContext(context.Background(), nil)
		defer cancel()

		db, err := tiledb.Open(viper.GetString("tiledb"), tiledb.Options{})
		if err != nil {
			exit(err)
		}

		opts := importer.DefaultAdminsOptions()
		opts.DryRun = viper.GetBool("dry-run")
		opts.BatchSize = viper.GetInt("batch-size")
		if ls := viper.GetIntSlice("levels"); len(ls) > 0 {
			levels := make([]admin.Level, len(ls))
			for i, l := range ls {
				levels[i] = admin.Level(l)
			}
			opts.Levels = admin.NewLevelSet(levels...)
		}
		_, err = importer.ImportAdminsFile(ctx, viper.GetString("admins-json"), db, opts)
		if cerr := db.Close(); err == nil {
			err = cerr
		}
		exit(err)
	},
}

func init() {
	rootCmd.AddCommand(adminsCmd)

	adminsCmd.Flags().String("admins-json", "", "Boundary export or admin documents JSON")
	adminsCmd.Flags().String("tiledb", params.DefaultTileDBPath, "Tile DB path")
	adminsCmd.Flags().IntSlice("levels", levelInts(params.DefaultAdminImportLevels), "Admin levels to import from a boundary export")
	adminsCmd.Flags().Int("batch-size", params.DefaultBatchSize, "Documents per write")
	adminsCmd.Flags().Bool("dry-run", false, "Parse and count without writing")
}
