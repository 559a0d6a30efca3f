package influxdb

import (
	"errors"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rotblauer/admintiles/params"
)

var ErrNotConfigured = errors.New("influxdb not configured")

// Run is the summary of one tile build.
type Run struct {
	Country    string
	Zoom       int
	Plan       string
	Tiles      int64
	Candidates int64
	Units      int
	Aborted    int
	Duration   time.Duration
	Finished   time.Time
}

// Point builds the admintiles_run point for r.
func Point(r Run) *write.Point {
	country := r.Country
	if country == "" {
		country = params.UnknownCountryKey
	}
	return influxdb2.NewPointWithMeasurement("admintiles_run").
		SetTime(r.Finished).
		AddTag("country", country).
		AddTag("zoom", strconv.Itoa(r.Zoom)).
		AddField("plan", r.Plan).
		AddField("tiles", r.Tiles).
		AddField("candidates", r.Candidates).
		AddField("units", r.Units).
		AddField("aborted", r.Aborted).
		AddField("duration_s", r.Duration.Seconds())
}

// ExportRun posts run summaries to an InfluxDB Write API.
// The last error encountered is returned.
func ExportRun(runs ...Run) error {
	if params.INFLUXDB_URL == "" {
		return ErrNotConfigured
	}
	opts := influxdb2.DefaultOptions()
	opts.SetPrecision(time.Second)
	client := influxdb2.NewClientWithOptions(params.INFLUXDB_URL, params.INFLUXDB_TOKEN, opts)
	writeAPI := client.WriteAPI(params.INFLUXDB_ORG, params.INFLUXDB_BUCKET)

	// The errors chan is unbuffered and must be drained or the writer will block.
	errorsCh := writeAPI.Errors()
	var err error
	wait := sync.WaitGroup{}
	wait.Add(1)
	go func() {
		defer wait.Done()
		for e := range errorsCh {
			if e != nil {
				err = e
			}
		}
	}()

	for _, r := range runs {
		writeAPI.WritePoint(Point(r))
	}
	writeAPI.Flush()
	client.Close()
	wait.Wait()
	return err
}
