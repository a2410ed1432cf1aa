package ingest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"
)

// ProgressFunc receives bytes read so far and the file size on disk.
type ProgressFunc func(read, total int64)

// readCloser closes the decompressor before the file.
type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens path for reading, transparently decompressing ".gz" files with
// pgzip. onProgress, if non-nil, is called as on-disk bytes are consumed.
func Open(path string, onProgress ProgressFunc) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var total int64 = -1
	if fi, err := f.Stat(); err == nil {
		total = fi.Size()
	}

	var r io.Reader = bufio.NewReaderSize(f, 256*1024)
	if onProgress != nil {
		r = &progressReader{reader: r, total: total, callback: onProgress}
	}

	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return &readCloser{Reader: r, closers: []io.Closer{f}}, nil
	}

	gz, err := pgzip.NewReader(r)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	return &readCloser{Reader: gz, closers: []io.Closer{gz, f}}, nil
}

type progressReader struct {
	reader   io.Reader
	read     int64
	total    int64
	callback ProgressFunc
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.callback(pr.read, pr.total)
	}
	return n, err
}
