package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"omr-grader/internal/data"
	"omr-grader/internal/logger"
	"omr-grader/internal/store"
	"omr-grader/internal/writer"
)

func writeOutput(ctx context.Context,
	csvWriter *writer.CSVWriter[data.GradedSheet],
	output string,
	gradedChan <-chan result[data.GradedSheet],
	results *writeResult[data.GradedSheet]) {
	for res := range gradedChan {
		if ctx.Err() != nil {
			logger.DebugLog("[writeOutput]: context cancelled")
			return
		}

		if res.err != nil {
			logger.DebugLog("[writeOutput]: failure for %s: %v", res.path, res.err)
			results.addFailure(res.path, res.err)
			continue
		}

		if err := csvWriter.Append(ctx, []data.GradedSheet{res.data}, output); err != nil {
			logger.DebugLog("[writeOutput]: error writing to file %s: %v", output, err)
			results.addFailure(res.path, fmt.Errorf("writing to file %s: %w", output, err))
			continue
		}

		logger.DebugLog("[writeOutput]: successfully wrote data for %s", res.path)
		results.addWrite(res.path, res.data)
	}
}

// recordResults hands successful sheets to the ledger; failures are only logged.
func recordResults(ctx context.Context, clients *Clients, gradedChan <-chan result[data.GradedSheet]) {
	runID := uuid.NewString()
	for res := range gradedChan {
		if res.err != nil {
			continue
		}
		rec := store.Record{
			RequestID: runID,
			Kind:      store.KindBatch,
			Source:    res.data.Filename,
			Engine:    clients.Engine.Name(),
			Score:     res.data.Score,
			Correct:   res.data.Correct,
			Total:     res.data.Total,
			Answers:   res.data.Answers,
			CreatedAt: time.Now().UTC(),
		}
		if err := clients.Recorder.Record(ctx, rec); err != nil {
			logger.DebugLog("[recordResults]: recording %s failed: %v", res.path, err)
		}
	}
}

func (r *writeResult[T]) addWrite(path string, data T) {
	r.mu.Lock()
	r.writes[path] = data
	r.mu.Unlock()
}

func (r *writeResult[T]) addFailure(path string, err error) {
	r.mu.Lock()
	r.failures[path] = err
	r.mu.Unlock()
}
