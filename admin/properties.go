package admin

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// IDKeys are checked in order; the first present key wins.
var IDKeys = []string{"@id", "osm_id", "id"}

// IDFromProperties returns the numeric OSM id of a feature.
// Exports must be made with `osmium export -a id,type`.
func IDFromProperties(props geojson.Properties) (int64, error) {
	for _, k := range IDKeys {
		v, ok := props[k]
		if !ok || v == nil {
			continue
		}
		id, ok := toInt64(v)
		if !ok {
			return 0, fmt.Errorf("%w: %s=%v", ErrMissingID, k, v)
		}
		return id, nil
	}
	return 0, ErrMissingID
}

// LevelFromProperties parses admin_level, which exports carry
// as either a string or a number.
func LevelFromProperties(props geojson.Properties) (Level, error) {
	v, ok := props[PropKeyLevel]
	if !ok || v == nil {
		return 0, ErrMissingLevel
	}
	n, ok := toInt64(v)
	if !ok {
		return 0, fmt.Errorf("%w: %v", ErrMissingLevel, v)
	}
	return Level(n), nil
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			return 0, false
		}
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		return toInt64(string(t))
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return toInt64(f)
		}
	}
	return 0, false
}

// Names returns the name tags of a feature keyed by language,
// with the plain name tag keyed "name".
func Names(props geojson.Properties) map[string]string {
	names := map[string]string{}
	if s, ok := props["name"].(string); ok && strings.TrimSpace(s) != "" {
		names["name"] = strings.TrimSpace(s)
	}
	for k, v := range props {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(k, "name:") || strings.TrimSpace(s) == "" {
			continue
		}
		lang := strings.SplitN(k, ":", 2)[1]
		names[lang] = strings.TrimSpace(s)
	}
	return names
}

// ChooseDisplayName picks en, then fi, then the plain name,
// then any other language (lowest key, for stability).
func ChooseDisplayName(names map[string]string) string {
	for _, k := range []string{"en", "fi", "name"} {
		if v, ok := names[k]; ok {
			return v
		}
	}
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		return names[keys[0]]
	}
	return ""
}

// DisplayName is used for logging units.
func DisplayName(props geojson.Properties, id int64) string {
	for _, k := range []string{"name:en", "name:fi", "name"} {
		if s, ok := props[k].(string); ok && s != "" {
			return s
		}
	}
	return strconv.FormatInt(id, 10)
}
