package writer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"omr-grader/internal/data"
)

func sheet(name string) data.GradedSheet {
	return data.GradedSheet{
		Filename: name,
		Score:    "1/2",
		Correct:  1,
		Total:    2,
		Answers:  []string{"A", "not detected"},
		Text:     "1. A",
	}
}

func TestCSVWriter_AppendMode(t *testing.T) {
	// Arrange
	outputPath := filepath.Join(t.TempDir(), "append_test.csv")
	writer := NewCSVWriter(data.MapCSVRecord, data.GetCSVHeader)
	defer writer.Close()
	ctx := context.Background()

	// Act
	err1 := writer.Append(ctx, []data.GradedSheet{sheet("sheet1.jpg")}, outputPath)
	err2 := writer.Append(ctx, []data.GradedSheet{sheet("sheet2.png")}, outputPath)

	// Assert
	if err1 != nil {
		t.Fatalf("First write failed: %v", err1)
	}
	if err2 != nil {
		t.Fatalf("Second write failed: %v", err2)
	}

	records := readCSVFile(t, outputPath)
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d records", len(records))
	}
	if !reflect.DeepEqual(records[0], data.GetCSVHeader()) {
		t.Errorf("expected header %v, got %v", data.GetCSVHeader(), records[0])
	}
	if records[1][0] != "sheet1.jpg" || records[2][0] != "sheet2.png" {
		t.Errorf("data integrity check failed")
	}
}

func TestCSVWriter_AppendToExistingFile(t *testing.T) {
	// Arrange
	outputPath := filepath.Join(t.TempDir(), "existing.csv")
	first := NewCSVWriter(data.MapCSVRecord, data.GetCSVHeader)
	if err := first.Append(context.Background(), []data.GradedSheet{sheet("a.png")}, outputPath); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first.Close()

	// Act
	second := NewCSVWriter(data.MapCSVRecord, data.GetCSVHeader)
	defer second.Close()
	err := second.Append(context.Background(), []data.GradedSheet{sheet("b.png")}, outputPath)

	// Assert
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if records := readCSVFile(t, outputPath); len(records) != 3 {
		t.Errorf("expected a single header across runs, got %d records", len(records))
	}
}

func TestCSVWriter_ReplaceMode(t *testing.T) {
	// Arrange
	outputPath := filepath.Join(t.TempDir(), "replace_test.csv")
	writer := NewCSVWriter(data.MapCSVRecord, data.GetCSVHeader)
	defer writer.Close()
	ctx := context.Background()

	// Act
	err1 := writer.Append(ctx, []data.GradedSheet{sheet("original.jpg")}, outputPath)
	err2 := writer.Replace(ctx, []data.GradedSheet{sheet("replaced.jpg")}, outputPath)

	// Assert
	if err1 != nil {
		t.Fatalf("First write failed: %v", err1)
	}
	if err2 != nil {
		t.Fatalf("Replace write failed: %v", err2)
	}

	records := readCSVFile(t, outputPath)
	if len(records) != 2 {
		t.Errorf("expected 2 records after replace, got %d", len(records))
	}
	if records[1][0] != "replaced.jpg" {
		t.Errorf("expected replaced content, got %s", records[1][0])
	}
}

func TestCSVWriter_ConcurrentWrites(t *testing.T) {
	// Arrange
	outputPath := filepath.Join(t.TempDir(), "concurrent_test.csv")
	writer := NewCSVWriter(data.MapCSVRecord, data.GetCSVHeader)
	defer writer.Close()

	numGoroutines := 5
	var wg sync.WaitGroup

	// Act
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rows := []data.GradedSheet{sheet(fmt.Sprintf("concurrent_%d.jpg", id))}
			if err := writer.Append(context.Background(), rows, outputPath); err != nil {
				t.Errorf("Goroutine %d failed: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	// Assert
	records := readCSVFile(t, outputPath)
	if len(records) != 1+numGoroutines {
		t.Errorf("expected %d records, got %d", 1+numGoroutines, len(records))
	}
}

func TestCSVWriter_EmptyData(t *testing.T) {
	// Arrange
	outputPath := filepath.Join(t.TempDir(), "empty_test.csv")
	writer := NewCSVWriter(data.MapCSVRecord, data.GetCSVHeader)
	defer writer.Close()

	// Act
	err := writer.Append(context.Background(), []data.GradedSheet{}, outputPath)

	// Assert
	if err != nil {
		t.Fatalf("Writing empty data failed: %v", err)
	}
	if records := readCSVFile(t, outputPath); len(records) > 0 {
		t.Errorf("expected no records for empty data, got %d", len(records))
	}
}

func TestCSVWriter_InvalidPath(t *testing.T) {
	// Arrange
	writer := NewCSVWriter(data.MapCSVRecord, data.GetCSVHeader)
	defer writer.Close()

	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	invalidPath := filepath.Join(blocker, "nested", "out.csv")

	// Act
	err := writer.Append(context.Background(), []data.GradedSheet{sheet("test.jpg")}, invalidPath)

	// Assert
	if err == nil {
		t.Errorf("expected error for invalid path, got none")
	}
}

func TestCSVWriter_Closed(t *testing.T) {
	writer := NewCSVWriter(data.MapCSVRecord, data.GetCSVHeader)
	writer.Close()
	writer.Close()

	err := writer.Append(context.Background(), []data.GradedSheet{sheet("late.jpg")}, filepath.Join(t.TempDir(), "x.csv"))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

// Helper functions
func readCSVFile(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open CSV file: %v", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("failed to read CSV: %v", err)
	}
	return records
}
