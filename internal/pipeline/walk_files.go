package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"omr-grader/internal/logger"
	"omr-grader/internal/omr"
)

func walkFiles(ctx context.Context, directory string, results chan<- string, errChan chan<- error) {
	files, err := os.ReadDir(directory)
	if err != nil {
		logger.DebugLog("[walkFiles]: failed to read directory %s: %v", directory, err)
		errChan <- fmt.Errorf("[walkFiles]: reading directory %s: %w", directory, err)
		return
	}

	for _, file := range files {
		if ctx.Err() != nil {
			logger.DebugLog("[walkFiles]: context cancelled")
			return
		}

		fileName := file.Name()
		if file.IsDir() || strings.HasPrefix(fileName, ".") || !isImageFile(fileName) {
			continue
		}
		fullPath := filepath.Join(directory, fileName)
		logger.DebugLog("[walkFiles]: sending file %s", fullPath)
		select {
		case results <- fullPath:
		case <-ctx.Done():
			logger.DebugLog("[walkFiles]: context done while sending file %s", fullPath)
			return
		}
	}
}

// isImageFile accepts the extensions of the two supported sheet formats.
func isImageFile(filename string) bool {
	_, ok := omr.ParseFormat(filepath.Ext(filename))
	return ok
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
