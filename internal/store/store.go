package store

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"omr-grader/internal/omr"
)

const (
	KindGrade   = "grade"
	KindCompare = "compare"
	KindBatch   = "batch"
)

// Record is one completed grading, as kept in the result ledger.
type Record struct {
	RequestID          string
	Kind               string
	Source             string
	Engine             string
	Score              string
	Correct            int
	Total              int
	MismatchPercentage *float64
	Answers            []string
	CreatedAt          time.Time
}

// NewRecord copies the ledger fields out of a grading result.
func NewRecord(kind, source, engine string, res omr.GradingResult) Record {
	answers := make([]string, 0, len(res.PerQuestion))
	for _, q := range res.PerQuestion {
		answers = append(answers, q.Detected)
	}
	return Record{
		RequestID:          res.RequestID,
		Kind:               kind,
		Source:             source,
		Engine:             engine,
		Score:              res.Score,
		Correct:            res.Correct,
		Total:              res.Total,
		MismatchPercentage: res.MismatchPercentage,
		Answers:            answers,
		CreatedAt:          time.Now().UTC(),
	}
}

// Recorder persists completed results. Callers treat failures as non-fatal.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
	Close() error
}

type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Record) error { return nil }
func (NopRecorder) Close() error                         { return nil }

type multiRecorder []Recorder

// Multi fans a record out to every recorder and joins their errors.
func Multi(recorders ...Recorder) Recorder {
	var out multiRecorder
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return NopRecorder{}
	case 1:
		return out[0]
	}
	return out
}

func (m multiRecorder) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Record(ctx, rec))
	}
	return errors.Join(errs...)
}

func (m multiRecorder) Close() error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}

func MapCSVRecord(r Record) []string {
	mismatch := ""
	if r.MismatchPercentage != nil {
		mismatch = strconv.FormatFloat(*r.MismatchPercentage, 'f', 2, 64)
	}
	return []string{
		r.CreatedAt.Format(time.RFC3339),
		r.RequestID,
		r.Kind,
		r.Source,
		r.Engine,
		r.Score,
		strconv.Itoa(r.Correct),
		strconv.Itoa(r.Total),
		mismatch,
		strings.Join(r.Answers, "; "),
	}
}

func GetCSVHeader() []string {
	return []string{"CreatedAt", "RequestID", "Kind", "Source", "Engine", "Score", "Correct", "Total", "Mismatch", "Answers"}
}
