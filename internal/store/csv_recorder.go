package store

import (
	"context"

	"omr-grader/internal/writer"
)

// CSVRecorder appends records to a CSV ledger file.
type CSVRecorder struct {
	path   string
	writer *writer.CSVWriter[Record]
}

func NewCSVRecorder(path string) *CSVRecorder {
	return &CSVRecorder{
		path:   path,
		writer: writer.NewCSVWriter(MapCSVRecord, GetCSVHeader),
	}
}

func (r *CSVRecorder) Record(ctx context.Context, rec Record) error {
	return r.writer.Append(ctx, []Record{rec}, r.path)
}

func (r *CSVRecorder) Close() error {
	r.writer.Close()
	return nil
}
