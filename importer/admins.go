package importer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/ingest"
	"github.com/rotblauer/admintiles/params"
	"github.com/rotblauer/admintiles/tiledb"
	"github.com/rotblauer/admintiles/tilez"
	"github.com/tidwall/gjson"
)

// AdminStore merges admin area documents.
type AdminStore interface {
	PutAdmins(docs map[string]tiledb.AdminDoc) error
}

var ErrNotAdminMap = errors.New("admins json is not an object")

type AdminsOptions struct {
	// Levels are the admin levels imported from boundary features.
	Levels    admin.LevelSet
	BatchSize int
	DryRun    bool
	Logger    *slog.Logger
}

func DefaultAdminsOptions() AdminsOptions {
	return AdminsOptions{
		Levels:    admin.NewLevelSet(params.DefaultAdminImportLevels...),
		BatchSize: params.DefaultBatchSize,
	}
}

// ImportAdminsFile imports either a boundary export or a small JSON admin
// map keyed "l{level}_{id}", whichever path holds. It returns the number of
// documents processed.
func ImportAdminsFile(ctx context.Context, path string, store AdminStore, opts AdminsOptions) (int, error) {
	f, err := tilez.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 4096)
	if looksLikeFeatures(br) {
		return ImportAdminFeatures(ctx, br, ingest.FormatOf(path), store, opts)
	}
	return ImportAdminMap(br, store, opts)
}

// looksLikeFeatures probes the head of the input for a features array,
// or a line-delimited Feature.
func looksLikeFeatures(br *bufio.Reader) bool {
	head, _ := br.Peek(4096)
	return bytes.Contains(head, []byte(`"features"`)) || bytes.Contains(head, []byte(`"Feature"`))
}

// ImportAdminFeatures streams boundary features and stores one document per
// relation at the accepted levels with its display name and all names.
func ImportAdminFeatures(ctx context.Context, r io.Reader, format ingest.Format, store AdminStore, opts AdminsOptions) (int, error) {
	log := opts.Logger
	if log == nil {
		log = slog.With("component", "import", "kind", "admins")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = params.DefaultBatchSize
	}
	res, err := ingest.Read(ctx, r, format, ingest.Options{Accepted: opts.Levels, Logger: log})
	if err != nil && !errors.Is(err, ingest.ErrNoFeatures) {
		return 0, err
	}

	docs := map[string]tiledb.AdminDoc{}
	n := 0
	flush := func() error {
		if opts.DryRun || len(docs) == 0 {
			clear(docs)
			return nil
		}
		if err := store.PutAdmins(docs); err != nil {
			return err
		}
		log.Info("Committed", "docs", len(docs), "total", humanize.Comma(int64(n)))
		clear(docs)
		return nil
	}
	for _, level := range res.Groups.Levels() {
		for _, f := range res.Groups.Features(level) {
			names := admin.Names(f.Properties)
			key := tiledb.AdminKey(int(f.Level), f.ID)
			doc := docs[key]
			doc.Level, doc.ID = int(f.Level), f.ID
			if d := admin.ChooseDisplayName(names); d != "" {
				doc.DisplayName = d
			}
			if len(names) > 0 {
				if doc.Names == nil {
					doc.Names = map[string]string{}
				}
				maps.Copy(doc.Names, names)
			}
			docs[key] = doc
			n++
			if len(docs) >= opts.BatchSize {
				if err := flush(); err != nil {
					return n, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return n, err
	}
	log.Info("Admin features imported", "dry_run", opts.DryRun,
		"read", humanize.Comma(int64(res.Read)), "eligible", humanize.Comma(int64(n)))
	return n, nil
}

// ImportAdminMap imports a JSON object of admin documents. Level and id
// default to those encoded in the key; a names object is merged per language.
func ImportAdminMap(r io.Reader, store AdminStore, opts AdminsOptions) (int, error) {
	log := opts.Logger
	if log == nil {
		log = slog.With("component", "import", "kind", "admins")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = params.DefaultBatchSize
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	root := gjson.ParseBytes(b)
	if !gjson.ValidBytes(b) || !root.IsObject() {
		return 0, ErrNotAdminMap
	}

	docs := map[string]tiledb.AdminDoc{}
	root.ForEach(func(k, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		doc, ok := adminDocFromMap(k.String(), v)
		if ok {
			docs[k.String()] = doc
		}
		return true
	})
	log.Info("Docs to import", "count", len(docs))
	if opts.DryRun {
		return len(docs), nil
	}

	keys := slices.Sorted(maps.Keys(docs))
	for start := 0; start < len(keys); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(keys))
		batch := make(map[string]tiledb.AdminDoc, end-start)
		for _, k := range keys[start:end] {
			batch[k] = docs[k]
		}
		if err := store.PutAdmins(batch); err != nil {
			return start, err
		}
		log.Info("Committed", "docs", len(batch), "total", end)
	}
	return len(docs), nil
}

func adminDocFromMap(key string, v gjson.Result) (tiledb.AdminDoc, bool) {
	var doc tiledb.AdminDoc
	if lvl, id, ok := parseAdminKey(key); ok {
		doc.Level, doc.ID = lvl, id
	}
	if l := v.Get("level"); l.Exists() {
		doc.Level = int(l.Int())
	}
	if id := v.Get("id"); id.Exists() {
		doc.ID = id.Int()
	}
	if doc.Level == 0 || doc.ID == 0 {
		return doc, false
	}
	v.ForEach(func(k, fv gjson.Result) bool {
		switch k.String() {
		case "level", "id":
		case "displayName":
			doc.DisplayName = fv.String()
		case "names":
			if !fv.IsObject() {
				break
			}
			doc.Names = map[string]string{}
			fv.ForEach(func(lang, name gjson.Result) bool {
				doc.Names[lang.String()] = name.String()
				return true
			})
		default:
			if doc.Extra == nil {
				doc.Extra = map[string]any{}
			}
			doc.Extra[k.String()] = fv.Value()
		}
		return true
	})
	if doc.DisplayName == "" && len(doc.Names) > 0 {
		doc.DisplayName = admin.ChooseDisplayName(doc.Names)
	}
	return doc, true
}

// parseAdminKey splits "l8_123" into 8 and 123.
func parseAdminKey(key string) (int, int64, bool) {
	lvl, id, ok := strings.Cut(strings.TrimPrefix(key, "l"), "_")
	if !ok {
		return 0, 0, false
	}
	l, err := strconv.Atoi(lvl)
	if err != nil {
		return 0, 0, false
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return l, n, true
}
