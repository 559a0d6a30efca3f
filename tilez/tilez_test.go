package tilez

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"out.csv", "out.csv.gz", "nested/dir/out.csv.GZ"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			w, err := Create(path)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := io.WriteString(w, "z,x,y\n14,1,2\n"); err != nil {
				t.Fatal(err)
			}
			if err := w.Close(); err != nil {
				t.Fatal(err)
			}

			r, err := Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			b, err := io.ReadAll(r)
			if err != nil {
				t.Fatal(err)
			}
			if string(b) != "z,x,y\n14,1,2\n" {
				t.Errorf("unexpected content %q", b)
			}
		})
	}
}

func TestCreateTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.csv.gz")
	for _, s := range []string{"first run, longer\n", "second\n"} {
		w, err := Create(path)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.WriteString(w, s)
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	b, _ := io.ReadAll(r)
	if string(b) != "second\n" {
		t.Errorf("expected truncation, got %q", b)
	}
}

func TestOpenNotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gz")
	if err := os.WriteFile(path, []byte("plain"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected a gzip header error")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.geojson")); err == nil {
		t.Fatal("expected not exist")
	}
}

func TestTrimGZ(t *testing.T) {
	cases := map[string]string{
		"a.geojson.gz":    "a.geojson",
		"a.geojsonseq":    "a.geojsonseq",
		"dir.gz/a.ndjson": "dir.gz/a.ndjson",
	}
	for in, want := range cases {
		if got := TrimGZ(in); got != want {
			t.Errorf("TrimGZ(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCloseTwice(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "x.csv.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}
