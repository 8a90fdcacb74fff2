package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"omr-grader/internal/logger"
	"omr-grader/internal/omr"
)

type normalizedItem struct {
	path    string
	image   omr.NormalizedImage
	err     error
	release func()
}

// normalizeImage decodes and normalizes each sheet. A throttle slot is held
// from decode until recognition finishes so only a bounded number of
// normalized images sit in memory.
func normalizeImage(ctx context.Context, clients *Clients, files <-chan string, results chan<- normalizedItem, throttle chan struct{}) {
	for file := range files {
		if ctx.Err() != nil {
			logger.DebugLog("[normalizeImage]: context cancelled")
			return
		}

		select {
		case throttle <- struct{}{}:
		case <-ctx.Done():
			logger.DebugLog("[normalizeImage]: context done before acquiring slot for %s", file)
			return
		}
		release := func() { <-throttle }

		logger.DebugLog("[normalizeImage]: normalizing %s (in-flight=%d)", file, len(throttle))
		item := normalizedItem{path: file, release: release}
		if img, err := readAndNormalize(clients, file); err != nil {
			logger.DebugLog("[normalizeImage]: error processing %s: %v", file, err)
			item.err = err
		} else {
			item.image = img
		}

		select {
		case results <- item:
		case <-ctx.Done():
			logger.DebugLog("[normalizeImage]: context done while sending %s", file)
			release()
			return
		}
	}
}

func readAndNormalize(clients *Clients, path string) (omr.NormalizedImage, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return omr.NormalizedImage{}, fmt.Errorf("reading %s: %w", path, err)
	}
	raw := omr.RawImage{Name: filepath.Base(path), Data: buf}
	if format, ok := omr.ParseFormat(filepath.Ext(path)); ok {
		raw.Format = format
	}
	return clients.Images.ForRecognition(raw)
}
