package writer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"omr-grader/internal/logger"
)

type WriteMode int

const (
	ModeReplace WriteMode = iota
	ModeAppend
)

// ErrClosed is returned for writes submitted after Close.
var ErrClosed = errors.New("writer is closed")

type MapperFunc[T any] func(T) []string

type HeaderFunc func() []string

type writeRequest[T any] struct {
	rows []T
	path string
	mode WriteMode
	resp chan error
}

// CSVWriter serializes appends to CSV files through a single goroutine so
// concurrent producers never interleave rows or duplicate headers.
type CSVWriter[T any] struct {
	queue    chan writeRequest[T]
	shutdown chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	headers  map[string]bool // only touched by the worker goroutine
	mapper   MapperFunc[T]
	header   HeaderFunc
}

func NewCSVWriter[T any](mapper MapperFunc[T], header HeaderFunc) *CSVWriter[T] {
	cw := &CSVWriter[T]{
		queue:    make(chan writeRequest[T], 100),
		shutdown: make(chan struct{}),
		headers:  make(map[string]bool),
		mapper:   mapper,
		header:   header,
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *CSVWriter[T]) run() {
	defer cw.wg.Done()
	for {
		select {
		case req := <-cw.queue:
			req.resp <- cw.write(req.rows, req.path, req.mode)
		case <-cw.shutdown:
			// drain what was accepted before shutdown
			for {
				select {
				case req := <-cw.queue:
					req.resp <- cw.write(req.rows, req.path, req.mode)
				default:
					return
				}
			}
		}
	}
}

// Close stops the worker after pending writes finish. Safe to call twice.
func (cw *CSVWriter[T]) Close() {
	cw.once.Do(func() {
		close(cw.shutdown)
		cw.wg.Wait()
		logger.DebugLog("[writer]: closed")
	})
}

// Append adds rows to path, writing the header first if the file is new or empty.
func (cw *CSVWriter[T]) Append(ctx context.Context, rows []T, path string) error {
	return cw.Write(ctx, rows, path, ModeAppend)
}

// Replace truncates path and writes the header plus rows.
func (cw *CSVWriter[T]) Replace(ctx context.Context, rows []T, path string) error {
	return cw.Write(ctx, rows, path, ModeReplace)
}

func (cw *CSVWriter[T]) Write(ctx context.Context, rows []T, path string, mode WriteMode) error {
	req := writeRequest[T]{rows: rows, path: path, mode: mode, resp: make(chan error, 1)}

	select {
	case <-cw.shutdown:
		return ErrClosed
	default:
	}

	select {
	case cw.queue <- req:
	case <-cw.shutdown:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// once queued the write completes even if ctx ends, so wait for it
	return <-req.resp
}

func (cw *CSVWriter[T]) write(rows []T, path string, mode WriteMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if mode == ModeReplace {
		flags |= os.O_TRUNC
		cw.headers[path] = false
	} else {
		flags |= os.O_APPEND
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening CSV file: %w", err)
	}
	defer file.Close()

	hasHeader := cw.headers[path]
	if !hasHeader && mode == ModeAppend {
		// a file left by an earlier run already carries its header
		if info, err := file.Stat(); err == nil && info.Size() > 0 {
			hasHeader = true
			cw.headers[path] = true
		}
	}

	w := csv.NewWriter(file)
	if !hasHeader && len(rows) > 0 {
		if err := w.Write(cw.header()); err != nil {
			return fmt.Errorf("writing CSV header: %w", err)
		}
		cw.headers[path] = true
	}

	for _, row := range rows {
		if err := w.Write(cw.mapper(row)); err != nil {
			return fmt.Errorf("writing CSV record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing CSV: %w", err)
	}
	logger.DebugLog("[writer]: wrote %d rows to %s", len(rows), path)
	return nil
}
