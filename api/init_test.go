package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotblauer/admintiles/params"
	"github.com/stretchr/testify/require"
)

var TestDatadirRoot = filepath.Join(os.TempDir(), "admintiles_test")

func init() {
	params.DatadirRoot = TestDatadirRoot
	params.DefaultTileDBPath = filepath.Join(TestDatadirRoot, params.TileDBFileName)
}

func square(x0, y0, x1, y1 float64) string {
	return fmt.Sprintf(`{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}`,
		x0, y0, x1, y0, x1, y1, x0, y1, x0, y0)
}

func feature(id int64, level int, geometry string, extra string) string {
	props := fmt.Sprintf(`"@type":"relation","@id":%d,"admin_level":"%d"`, id, level)
	if extra != "" {
		props += "," + extra
	}
	return fmt.Sprintf(`{"type":"Feature","geometry":%s,"properties":{%s}}`, geometry, props)
}

// writeInput writes features as a .geojsonseq file in a temp dir.
func writeInput(t *testing.T, features ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admin.geojsonseq")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(features, "\n")+"\n"), 0600))
	return path
}
