// Package ingest streams boundary features from an OSM admin export,
// keeping polygonal relations at accepted levels and sniffing the country.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb/geojson"
	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/stream"
	"github.com/rotblauer/admintiles/tilez"
	"github.com/tidwall/gjson"
)

type Format int

const (
	// FormatSeq is one feature per line: .geojsonseq, .ndjson, .jsonl.
	FormatSeq Format = iota
	// FormatCollection is a FeatureCollection document: .geojson, .json.
	FormatCollection
)

// FormatOf picks the format from the file extension, ignoring a trailing .gz.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(tilez.TrimGZ(path))) {
	case ".geojson", ".json":
		return FormatCollection
	}
	return FormatSeq
}

// Reject reasons.
const (
	RejectInvalid      = "invalid"
	RejectNotRelation  = "not_relation"
	RejectNotPolygonal = "not_polygonal"
	RejectLevel        = "level"
	RejectNoLevel      = "no_level"
	RejectNoID         = "no_id"
)

type Options struct {
	Accepted     admin.LevelSet
	TickInterval time.Duration
	Logger       *slog.Logger
}

type Result struct {
	Groups *admin.Groups
	// Read counts every feature seen, accepted or not.
	Read     int
	Rejected map[string]int

	// Country is the ISO2 code sniffed from the first accepted feature carrying one.
	Country string
	// Subdivision is PT-20 when Country is PT and any feature is tagged as the Azores.
	Subdivision string

	azores bool
}

var ErrNoFeatures = errors.New("no accepted features")

// ReadFile opens and reads path.
func ReadFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := tilez.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(ctx, f, FormatOf(path), opts)
}

// Read reads features from r. It returns ErrNoFeatures, along with the
// result, when nothing was accepted.
func Read(ctx context.Context, r io.Reader, format Format, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = slog.With("component", "ingest")
	}
	res := &Result{Groups: admin.NewGroups(), Rejected: map[string]int{}}
	meter := stream.NewTickMeter("Reading features", opts.TickInterval, log)
	defer meter.Stop()

	handle := func(raw []byte) {
		res.Read++
		meter.Mark("read", 1)
		f, reason := decode(raw, opts.Accepted)
		if f == nil {
			res.Rejected[reason]++
			return
		}
		meter.Mark("accepted", 1)
		res.Groups.Add(f)
		res.sniff(f.Properties)
	}

	var err error
	switch format {
	case FormatCollection:
		err = readCollection(ctx, r, handle)
	default:
		err = readSeq(ctx, r, handle)
	}
	if err != nil {
		return res, err
	}
	if res.azores && res.Country == "PT" {
		res.Subdivision = "PT-20"
	}

	log.Info("Read features",
		"read", humanize.Comma(int64(res.Read)),
		"accepted", humanize.Comma(int64(res.Groups.Len())),
		"rejected", res.Rejected,
		"levels", res.Groups.Counts(),
		"country", res.Country,
		"subdivision", res.Subdivision)

	if res.Groups.Len() == 0 {
		return res, ErrNoFeatures
	}
	return res, nil
}

func readSeq(ctx context.Context, r io.Reader, handle func([]byte)) error {
	lines, errs := stream.Lines(ctx, r)
	for line := range lines {
		// RFC 8142 record separators.
		handle(bytes.TrimLeft(line, "\x1e"))
	}
	if err := <-errs; err != nil {
		return fmt.Errorf("read features: %w", err)
	}
	return ctx.Err()
}

// readCollection walks a FeatureCollection token by token,
// decoding one feature of the features array at a time.
func readCollection(ctx context.Context, r io.Reader, handle func([]byte)) error {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read collection: %w", err)
		}
		key, _ := tok.(string)
		if key != "features" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return fmt.Errorf("read collection %q: %w", key, err)
			}
			continue
		}
		if err := expectDelim(dec, '['); err != nil {
			return err
		}
		for dec.More() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return fmt.Errorf("read feature: %w", err)
			}
			handle(raw)
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read collection: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("read collection: expected %q, got %v", want, tok)
	}
	return nil
}

// decode checks the cheap fields with gjson before decoding the geometry.
func decode(raw []byte, accepted admin.LevelSet) (*admin.Feature, string) {
	if !gjson.ValidBytes(raw) {
		return nil, RejectInvalid
	}
	props := gjson.GetBytes(raw, "properties")
	if props.Get(`\@type`).String() != admin.KindRelation {
		return nil, RejectNotRelation
	}
	switch gjson.GetBytes(raw, "geometry.type").String() {
	case "Polygon", "MultiPolygon":
	default:
		return nil, RejectNotPolygonal
	}
	if lvl := props.Get(admin.PropKeyLevel); lvl.Exists() && accepted != nil {
		if !accepted.Has(admin.Level(lvl.Int())) {
			return nil, RejectLevel
		}
	}

	gf, err := geojson.UnmarshalFeature(raw)
	if err != nil {
		return nil, RejectInvalid
	}
	f, err := admin.FromGeoJSON(gf, accepted)
	if err != nil {
		return nil, rejectReason(err)
	}
	return f, ""
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, admin.ErrNotRelation):
		return RejectNotRelation
	case errors.Is(err, admin.ErrNotPolygonal):
		return RejectNotPolygonal
	case errors.Is(err, admin.ErrLevelNotAccepted):
		return RejectLevel
	case errors.Is(err, admin.ErrMissingLevel):
		return RejectNoLevel
	case errors.Is(err, admin.ErrMissingID):
		return RejectNoID
	}
	return RejectInvalid
}

// ISOKeys are checked in order for a country code.
var ISOKeys = []string{"iso2", "ISO3166-1:alpha2", "ISO3166-1", "is_in:country_code"}

func (res *Result) sniff(props geojson.Properties) {
	if res.Country == "" {
		res.Country = SniffCountry(props)
	}
	if !res.azores {
		res.azores = IsAzores(props)
	}
}

// SniffCountry returns the upper-cased first two characters of the first
// non-blank country code property.
func SniffCountry(props geojson.Properties) string {
	for _, k := range ISOKeys {
		v, ok := props[k]
		if !ok || v == nil {
			continue
		}
		s := strings.ToUpper(strings.TrimSpace(fmt.Sprint(v)))
		if s == "" {
			continue
		}
		if len(s) > 2 {
			s = s[:2]
		}
		return s
	}
	return ""
}

// IsAzores reports whether any ISO3166-2 property names PT-20.
func IsAzores(props geojson.Properties) bool {
	for k, v := range props {
		s, ok := v.(string)
		if ok && strings.HasPrefix(k, "ISO3166-2") && strings.Contains(strings.ToUpper(s), "PT-20") {
			return true
		}
	}
	return false
}
