// Package stream holds the channel plumbing shared by the readers and importers.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"io"
)

// MaxLineSize bounds a single line read by Lines.
// Country boundaries are multi-megabyte single lines.
var MaxLineSize = 512 * 1024 * 1024

// Lines sends each non-blank line of in, copied.
// The error channel receives at most one read error and is closed after out.
func Lines(ctx context.Context, in io.Reader) (<-chan []byte, <-chan error) {
	out := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(out)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			cp := make([]byte, len(line))
			copy(cp, line)
			select {
			case <-ctx.Done():
				return
			case out <- cp:
			}
		}
		if err := sc.Err(); err != nil {
			errs <- err
		}
	}()
	return out, errs
}

// Batch groups elements into slices of up to size. The last batch may be short.
func Batch[T any](ctx context.Context, size int, in <-chan T) <-chan []T {
	if size < 1 {
		size = 1
	}
	out := make(chan []T)
	go func() {
		defer close(out)
		batch := make([]T, 0, size)
		for element := range in {
			batch = append(batch, element)
			if len(batch) < size {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- batch:
			}
			batch = make([]T, 0, size)
		}
		if len(batch) > 0 {
			select {
			case <-ctx.Done():
			case out <- batch:
			}
		}
	}()
	return out
}
