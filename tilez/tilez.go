// Package tilez opens input and output flat files, gzipped or not,
// holding advisory locks while they are in use.
package tilez

import (
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotblauer/admintiles/params"
)

// File and directory modes of created outputs.
var (
	FilePerm os.FileMode = 0660
	DirPerm  os.FileMode = 0770
)

// IsGZ reports whether a path names a gzip file.
func IsGZ(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".gz")
}

// TrimGZ strips a trailing .gz, eg. to find the inner format of a file.
func TrimGZ(path string) string {
	if IsGZ(path) {
		return path[:len(path)-len(filepath.Ext(path))]
	}
	return path
}

// lockedFile is a file held under an advisory lock until closed.
type lockedFile struct {
	*os.File
}

func lock(f *os.File, how int) lockedFile {
	_ = syscall.Flock(int(f.Fd()), how)
	return lockedFile{f}
}

func (l lockedFile) Close() error {
	_ = syscall.Flock(int(l.Fd()), syscall.LOCK_UN)
	return l.File.Close()
}

// gzReader closes the gzip stream and then the file.
type gzReader struct {
	*gzip.Reader
	f lockedFile
}

func (r *gzReader) Close() error {
	return errors.Join(r.Reader.Close(), r.f.Close())
}

// gzWriter flushes the gzip stream and syncs before closing the file.
// Close is idempotent.
type gzWriter struct {
	*gzip.Writer
	f      lockedFile
	closed bool
}

func (w *gzWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.Writer.Close(); err != nil {
		return errors.Join(err, w.f.Close())
	}
	if err := w.f.Sync(); err != nil {
		return errors.Join(err, w.f.Close())
	}
	return w.f.Close()
}

// Open opens path for reading under a shared lock,
// decompressing when it ends in .gz.
func Open(path string) (io.ReadCloser, error) {
	if !IsGZ(path) {
		return OpenRaw(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	lf := lock(f, syscall.LOCK_SH)
	gzr, err := gzip.NewReader(lf)
	if err != nil {
		_ = lf.Close()
		return nil, err
	}
	return &gzReader{Reader: gzr, f: lf}, nil
}

// OpenRaw opens path for reading without decompressing.
func OpenRaw(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return lock(f, syscall.LOCK_SH), nil
}

// Create truncates or creates path for writing under an exclusive lock,
// compressing when it ends in .gz. Parent directories are created.
func Create(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), DirPerm); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, FilePerm)
	if err != nil {
		return nil, err
	}
	lf := lock(f, syscall.LOCK_EX)
	if !IsGZ(path) {
		return lf, nil
	}
	gzw, err := gzip.NewWriterLevel(lf, params.DefaultGZipCompressionLevel)
	if err != nil {
		_ = lf.Close()
		return nil, err
	}
	return &gzWriter{Writer: gzw, f: lf}, nil
}
