package params

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/admintiles/admin"
)

func init() {
	metrics.Enabled = true
}

const (
	TileDBFileName = "tiles.db"

	// DefaultOutPrefixFormat is filled with the zoom.
	DefaultOutPrefixFormat = "z%d_level248_ids"
	UnknownCountryKey      = "unknown"
)

var DatadirRoot = func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".admintiles")
}()

var DefaultTileDBPath = filepath.Join(DatadirRoot, TileDBFileName)

var (
	DefaultZoom = 14

	// DefaultAcceptedLevels are the admin levels kept at ingest.
	// 3 and 10 are needed by TR and GB plans.
	DefaultAcceptedLevels = []admin.Level{2, 3, 4, 5, 6, 7, 8, 9, 10}

	// DefaultAdminImportLevels are the levels kept by the admin name importer.
	DefaultAdminImportLevels = []admin.Level{2, 3, 4, 5, 6, 7, 8}

	DefaultMinCoverage   = 0.95
	DefaultTolerance     = 0.10
	DefaultBaselineLevel = admin.LevelCountry

	// Early abort: a unit stops scanning its bbox once it has tested more than
	// EarlyAbortFloor candidates and at least EarlyAbortRatio per accepted tile.
	DefaultEarlyAbortFloor = 100_000
	DefaultEarlyAbortRatio = 10
)

var DefaultBatchSize = 450
var DefaultBufferSize = 10_000
var DefaultProgressEvery = 10_000
var DefaultCacheSize = 4096

var DefaultGZipCompressionLevel = gzip.BestCompression

var AWS_BUCKETNAME = os.Getenv("AWS_BUCKETNAME")

var (
	INFLUXDB_URL    = os.Getenv("INFLUXDB_URL")
	INFLUXDB_TOKEN  = os.Getenv("INFLUXDB_TOKEN")
	INFLUXDB_ORG    = os.Getenv("INFLUXDB_ORG")
	INFLUXDB_BUCKET = os.Getenv("INFLUXDB_BUCKET")
)

var (
	TileDBAdminsBucket = []byte("admin_areas")
	TileDBRunsBucket   = []byte("runs")
)

// TileDBTilesBucket names the tile bucket of a zoom.
func TileDBTilesBucket(zoom int) []byte {
	return []byte(fmt.Sprintf("tiles_z%d", zoom))
}

// DefaultOutPrefix is the output prefix used when none is given.
func DefaultOutPrefix(zoom int) string {
	return fmt.Sprintf(DefaultOutPrefixFormat, zoom)
}
