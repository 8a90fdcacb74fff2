package pipeline

import (
	"context"
	"fmt"
	"sync"

	"omr-grader/internal/data"
	"omr-grader/internal/logger"
	"omr-grader/internal/ocr"
	"omr-grader/internal/omr"
	"omr-grader/internal/writer"
)

type result[T any] struct {
	path string
	data T
	err  error
}

type writeResult[T any] struct {
	mu       sync.Mutex
	writes   map[string]T
	failures map[string]error
}

const defaultWorkers = 2

// Run grades every JPEG or PNG sheet in directory against key and appends one
// CSV row per sheet to outputFile. Per-file failures are keyed by path;
// failures of the run itself are keyed "pipeline_error".
func Run(ctx context.Context, clients *Clients, directory string, key omr.AnswerKey, outputFile string) (writes map[string]data.GradedSheet, failures map[string]error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger.DebugLog("Pipeline started with engine=%s, directory=%s, output=%s", clients.Engine.Name(), directory, outputFile)

	results := &writeResult[data.GradedSheet]{
		writes:   make(map[string]data.GradedSheet),
		failures: make(map[string]error),
	}
	if err := key.Validate(clients.Extractor.Alphabet()); err != nil {
		results.addFailure("pipeline_error", err)
		return results.writes, results.failures
	}

	workers := clients.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	csvWriter := writer.NewCSVWriter(data.MapCSVRecord, data.GetCSVHeader)
	defer csvWriter.Close()

	errChan := make(chan error, 10)                         // run-level errors
	files := make(chan string)                              // paths from walkFiles
	throttle := make(chan struct{}, workers)                // bounds decoded images in flight
	normalizedChan := make(chan normalizedItem)             // normalized sheets awaiting recognition
	ocrChan := make(chan ocr.OCRResult)                     // recognition output per sheet
	gradedChan := make(chan result[data.GradedSheet], 10) // extracted and scored sheets

	go func() {
		defer close(files)
		logger.DebugLog("Starting [walkFiles] goroutine")
		walkFiles(ctx, directory, files, errChan)
		defer logger.DebugLog("[walkFiles] goroutine finished")
	}()

	go func() {
		defer close(normalizedChan)
		logger.DebugLog("Starting [normalizeImage] goroutine")
		normalizeImage(ctx, clients, files, normalizedChan, throttle)
		defer logger.DebugLog("[normalizeImage] goroutine finished")
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			logger.DebugLog("Starting [performOcr] worker #%d", worker+1)
			performOcr(ctx, clients, normalizedChan, ocrChan)
			defer logger.DebugLog("[performOcr] worker #%d finished", worker+1)
		}(i)
	}
	go func() {
		wg.Wait()
		logger.DebugLog("All [performOcr] workers finished, closing ocrChan")
		close(ocrChan)
	}()

	go func() {
		defer close(gradedChan)
		logger.DebugLog("Starting [extractData] goroutine")
		extractData(ctx, clients, key, ocrChan, gradedChan)
		defer logger.DebugLog("[extractData] goroutine finished")
	}()

	// fan-out - forward graded sheets to the CSV output and the result ledger
	csvInput := make(chan result[data.GradedSheet])
	ledgerInput := make(chan result[data.GradedSheet], 10)

	go func() {
		logger.DebugLog("Starting [forwardChan] for gradedChan -> csvInput, ledgerInput")
		forwardChan(ctx, gradedChan, csvInput, ledgerInput)
		defer logger.DebugLog("[forwardChan] for gradedChan finished")
	}()

	var outWg sync.WaitGroup
	outWg.Add(2)
	go func() {
		defer outWg.Done()
		logger.DebugLog("Starting [writeOutput] goroutine")
		writeOutput(ctx, csvWriter, outputFile, csvInput, results)
		defer logger.DebugLog("[writeOutput] goroutine finished")
	}()
	go func() {
		defer outWg.Done()
		logger.DebugLog("Starting [recordResults] goroutine")
		recordResults(ctx, clients, ledgerInput)
		defer logger.DebugLog("[recordResults] goroutine finished")
	}()

	outWg.Wait()
	logger.DebugLog("All outputs finished, closing errChan")
	close(errChan)
	for err := range errChan {
		if err != nil {
			logger.DebugLog("Error received in errChan: %v", err)
			results.addFailure("pipeline_error", err)
		}
	}
	if err := ctx.Err(); err != nil && len(results.failures) == 0 {
		results.addFailure("pipeline_error", fmt.Errorf("pipeline cancelled: %w", err))
	}

	logger.DebugLog("Pipeline finished")
	return results.writes, results.failures
}

func forwardChan[T any](ctx context.Context, in <-chan T, outs ...chan<- T) {
	defer func() {
		for _, out := range outs {
			close(out)
		}
	}()

	for res := range in {
		if ctx.Err() != nil {
			logger.DebugLog("forwardChan: context cancelled")
			return
		}

		for _, out := range outs {
			select {
			case out <- res:
			case <-ctx.Done():
				logger.DebugLog("forwardChan: context done while forwarding")
				return
			}
		}
	}
}
