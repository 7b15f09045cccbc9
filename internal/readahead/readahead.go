// Package readahead provides a page-aligned buffered reader for the
// sequential scan an HDU indexing pass performs over a local FITS file.
package readahead

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

const (
	KiB = 1024
	MiB = 1024 * KiB
)

// DefaultChunkSize is the buffer size used when the caller does not
// request a specific size; large enough to amortize syscalls across many
// 2880-byte block reads during a header scan.
const DefaultChunkSize = 4 * MiB

// CachingReader wraps a file in a page-aligned bufio.Reader so the HDU
// scanner's many small sequential reads don't each cost a syscall.
type CachingReader struct {
	file      io.ReadCloser
	buffer    *bufio.Reader
	chunkSize int
}

// Open returns a CachingReader over the file at path.
func Open(path string, chunkSize int) (*CachingReader, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunkSize = alignValueToPageSize(chunkSize)
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &CachingReader{file: file, buffer: bufio.NewReaderSize(file, chunkSize), chunkSize: chunkSize}, nil
}

// NewFromReader wraps an already-open ReadCloser.
func NewFromReader(r io.ReadCloser, chunkSize int) *CachingReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunkSize = alignValueToPageSize(chunkSize)
	return &CachingReader{file: r, buffer: bufio.NewReaderSize(r, chunkSize), chunkSize: chunkSize}
}

func alignValueToPageSize(value int) int {
	pageSize := os.Getpagesize()
	return (value + pageSize - 1) &^ (pageSize - 1)
}

func (cr *CachingReader) Read(p []byte) (int, error) {
	if cr.file == nil {
		return 0, fmt.Errorf("file not open")
	}
	if len(p) == 0 {
		return 0, nil
	}
	return cr.buffer.Read(p)
}

// Close releases the underlying file.
func (cr *CachingReader) Close() error {
	return cr.file.Close()
}
