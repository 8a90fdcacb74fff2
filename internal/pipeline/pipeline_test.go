package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"omr-grader/internal/ocr"
	"omr-grader/internal/omr"
	"omr-grader/internal/store"
	"omr-grader/internal/tempstore"
)

const sheetText = "1. B\n2. X\n3. C\n4. A\n5. D\n"

type fakeRecognizer struct {
	text  string
	err   error
	block bool
	calls atomic.Int32
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) Recognize(ctx context.Context, img omr.NormalizedImage, opts ocr.Options) (ocr.RecognizedText, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return ocr.RecognizedText{}, ocr.ContextError(ctx, f.Name())
	}
	if err := ctx.Err(); err != nil {
		return ocr.RecognizedText{}, ocr.ContextError(ctx, f.Name())
	}
	if f.err != nil {
		return ocr.RecognizedText{}, f.err
	}
	return ocr.RecognizedText{Text: f.text, Confidence: 0.9, Engine: f.Name()}, nil
}

func (f *fakeRecognizer) Close() error { return nil }

type memoryRecorder struct {
	mu      sync.Mutex
	records []store.Record
	err     error
}

func (m *memoryRecorder) Record(_ context.Context, rec store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

func (m *memoryRecorder) Close() error { return nil }

func (m *memoryRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func sheetPNG(t *testing.T, w, h int, mark bool) []byte {
	t.Helper()
	img := imaging.New(w, h, color.White)
	if mark {
		for y := h * 3 / 4; y < h*3/4+h/10; y++ {
			for x := w / 4; x < w/2; x++ {
				img.Set(x, y, color.Black)
			}
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func newTestClients(t *testing.T, engine ocr.Recognizer, rec store.Recorder) (*Clients, *tempstore.Store) {
	t.Helper()
	temp, err := tempstore.New(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("tempstore.New: %v", err)
	}
	c := NewClients(engine, temp, rec, Settings{
		Alphabet:      "ABCD",
		MaxDimension:  200,
		CompareCanvas: 100,
		Timeout:       time.Second,
		Workers:       2,
	})
	return c, temp
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", dir, err)
	}
	return n
}

func TestGrader_GradeSheet_EndToEnd(t *testing.T) {
	// arrange
	engine := &fakeRecognizer{text: sheetText}
	rec := &memoryRecorder{}
	clients, temp := newTestClients(t, engine, rec)
	key := omr.AnswerKey{"B", "B", "C", "A", "D"}

	// act
	res, err := NewGrader(clients).GradeSheet(context.Background(), omr.RawImage{Name: "sheet.png", Data: sheetPNG(t, 300, 400, false)}, key)

	// assert
	if err != nil {
		t.Fatalf("GradeSheet failed: %v", err)
	}
	if res.Score != "4/5" || res.Correct != 4 || res.Incorrect != 1 || res.Total != 5 {
		t.Errorf("unexpected result %+v", res)
	}
	expected := []omr.QuestionResult{
		{Question: 1, Detected: "B", Correct: true},
		{Question: 2, Detected: omr.NotDetected, Correct: false},
		{Question: 3, Detected: "C", Correct: true},
		{Question: 4, Detected: "A", Correct: true},
		{Question: 5, Detected: "D", Correct: true},
	}
	for i, q := range expected {
		if res.PerQuestion[i] != q {
			t.Errorf("question %d: expected %+v, got %+v", i+1, q, res.PerQuestion[i])
		}
	}
	if res.RequestID == "" || res.RecognizedText != sheetText {
		t.Errorf("expected request id and recognized text to be set")
	}
	if got := countFiles(t, temp.HoldingDir()); got != 1 {
		t.Errorf("expected input in holding area, found %d files", got)
	}
	if got := countFiles(t, temp.WorkDir()); got != 0 {
		t.Errorf("expected empty work area, found %d files", got)
	}
	if rec.len() != 1 || rec.records[0].Kind != store.KindGrade || rec.records[0].Engine != "fake" {
		t.Errorf("expected one grade record, got %+v", rec.records)
	}
}

func TestGrader_GradeSheet_Failures(t *testing.T) {
	png := func(t *testing.T) []byte { return sheetPNG(t, 50, 50, false) }

	testCases := []struct {
		name    string
		engine  *fakeRecognizer
		data    func(t *testing.T) []byte
		key     omr.AnswerKey
		timeout time.Duration
		kind    error
		calls   int32
	}{
		{
			name:   "engine failure",
			engine: &fakeRecognizer{err: omr.Errorf(omr.KindRecognitionEngine, "fake recognize", "boom")},
			data:   png,
			key:    omr.AnswerKey{"A"},
			kind:   omr.ErrRecognitionEngine,
			calls:  1,
		},
		{
			name:    "recognition timeout",
			engine:  &fakeRecognizer{block: true},
			data:    png,
			key:     omr.AnswerKey{"A"},
			timeout: 20 * time.Millisecond,
			kind:    omr.ErrRecognitionTimeout,
			calls:   1,
		},
		{
			name:   "unsupported format",
			engine: &fakeRecognizer{text: sheetText},
			data:   func(*testing.T) []byte { return []byte("GIF89a....") },
			key:    omr.AnswerKey{"A"},
			kind:   omr.ErrImageDecode,
		},
		{
			name:   "missing image",
			engine: &fakeRecognizer{text: sheetText},
			data:   func(*testing.T) []byte { return nil },
			key:    omr.AnswerKey{"A"},
			kind:   omr.ErrMissingInput,
		},
		{
			name:   "empty key",
			engine: &fakeRecognizer{text: sheetText},
			data:   png,
			key:    omr.AnswerKey{},
			kind:   omr.ErrInvalidKeyLength,
		},
		{
			name:   "key outside alphabet",
			engine: &fakeRecognizer{text: sheetText},
			data:   png,
			key:    omr.AnswerKey{"A", "Z"},
			kind:   omr.ErrInvalidKey,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// arrange
			rec := &memoryRecorder{}
			clients, temp := newTestClients(t, tc.engine, rec)
			if tc.timeout > 0 {
				clients.Timeout = tc.timeout
			}

			// act
			_, err := NewGrader(clients).GradeSheet(context.Background(), omr.RawImage{Name: "s.png", Data: tc.data(t)}, tc.key)

			// assert
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if got := tc.engine.calls.Load(); got != tc.calls {
				t.Errorf("expected %d engine calls, got %d", tc.calls, got)
			}
			if n := countFiles(t, temp.HoldingDir()) + countFiles(t, temp.WorkDir()); n != 0 {
				t.Errorf("expected no temp files after failure, found %d", n)
			}
			if rec.len() != 0 {
				t.Errorf("failed request must not be recorded")
			}
		})
	}
}

func TestGrader_GradeSheet_Cancelled(t *testing.T) {
	engine := &fakeRecognizer{block: true}
	clients, temp := newTestClients(t, engine, nil)
	clients.Timeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for engine.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := NewGrader(clients).GradeSheet(ctx, omr.RawImage{Name: "s.png", Data: sheetPNG(t, 50, 50, false)}, omr.AnswerKey{"A"})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if omr.KindOf(err) != "" {
		t.Errorf("cancellation should not carry a grading kind, got %s", omr.KindOf(err))
	}
	if n := countFiles(t, temp.HoldingDir()) + countFiles(t, temp.WorkDir()); n != 0 {
		t.Errorf("expected cleanup on cancellation, found %d files", n)
	}
}

func TestGrader_GradeSheet_RecorderFailureIsNotFatal(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("ledger down")}
	clients, _ := newTestClients(t, &fakeRecognizer{text: sheetText}, rec)

	res, err := NewGrader(clients).GradeSheet(context.Background(), omr.RawImage{Data: sheetPNG(t, 50, 50, false)}, omr.AnswerKey{"B", "B", "C", "A", "D"})

	if err != nil {
		t.Fatalf("expected success despite ledger failure, got %v", err)
	}
	if res.Score != "4/5" {
		t.Errorf("unexpected score %s", res.Score)
	}
}

func TestGrader_CompareSheets(t *testing.T) {
	// arrange
	rec := &memoryRecorder{}
	engine := &fakeRecognizer{}
	clients, temp := newTestClients(t, engine, rec)
	sheet := sheetPNG(t, 200, 300, false)

	// act
	res, err := NewGrader(clients).CompareSheets(context.Background(),
		omr.RawImage{Name: "key.png", Data: sheet},
		omr.RawImage{Name: "student.png", Data: sheet},
		20)

	// assert
	if err != nil {
		t.Fatalf("CompareSheets failed: %v", err)
	}
	if res.Score != "20/20" || res.Incorrect != 0 {
		t.Errorf("expected identical sheets to score 20/20, got %+v", res)
	}
	if res.MismatchPercentage == nil || *res.MismatchPercentage != 0 {
		t.Errorf("expected 0%% mismatch, got %v", res.MismatchPercentage)
	}
	if len(res.DiffImage) == 0 {
		t.Errorf("expected diff image")
	}
	if len(res.PerQuestion) != 0 {
		t.Errorf("visual path must not report per-question detail")
	}
	if engine.calls.Load() != 0 {
		t.Errorf("visual path must not call the recognizer")
	}
	if got := countFiles(t, temp.HoldingDir()); got != 2 {
		t.Errorf("expected both inputs in holding, found %d", got)
	}
	if rec.len() != 1 || rec.records[0].Kind != store.KindCompare {
		t.Errorf("expected one compare record, got %+v", rec.records)
	}
}

func TestGrader_CompareSheets_DetectsMarks(t *testing.T) {
	clients, _ := newTestClients(t, &fakeRecognizer{}, nil)

	res, err := NewGrader(clients).CompareSheets(context.Background(),
		omr.RawImage{Data: sheetPNG(t, 200, 300, false)},
		omr.RawImage{Data: sheetPNG(t, 200, 300, true)},
		20)

	if err != nil {
		t.Fatalf("CompareSheets failed: %v", err)
	}
	if res.MismatchPercentage == nil || *res.MismatchPercentage <= 0 {
		t.Errorf("expected a positive mismatch, got %v", res.MismatchPercentage)
	}
	if res.Correct+res.Incorrect != res.Total {
		t.Errorf("correct + incorrect must equal total: %+v", res)
	}
}

func TestGrader_CompareSheets_Failures(t *testing.T) {
	good := sheetPNG(t, 40, 40, false)

	testCases := []struct {
		name             string
		correct, student []byte
		total            int
		kind             error
	}{
		{name: "missing student", correct: good, student: nil, total: 20, kind: omr.ErrMissingInput},
		{name: "missing correct", correct: nil, student: good, total: 20, kind: omr.ErrMissingInput},
		{name: "non-positive total", correct: good, student: good, total: 0, kind: omr.ErrInvalidKeyLength},
		{name: "corrupt student", correct: good, student: append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}, 1, 2, 3), total: 20, kind: omr.ErrImageDecode},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clients, temp := newTestClients(t, &fakeRecognizer{}, nil)

			_, err := NewGrader(clients).CompareSheets(context.Background(),
				omr.RawImage{Name: "a.png", Data: tc.correct},
				omr.RawImage{Name: "b.png", Data: tc.student},
				tc.total)

			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if n := countFiles(t, temp.HoldingDir()) + countFiles(t, temp.WorkDir()); n != 0 {
				t.Errorf("expected no temp files after failure, found %d", n)
			}
		})
	}
}

func TestGrader_WithoutTempStore(t *testing.T) {
	clients := NewClients(&fakeRecognizer{text: "1. A\n"}, nil, nil, Settings{Alphabet: "ABCD", MaxDimension: 100, CompareCanvas: 50})

	res, err := NewGrader(clients).GradeSheet(context.Background(), omr.RawImage{Data: sheetPNG(t, 20, 20, false)}, omr.AnswerKey{"A"})
	if err != nil {
		t.Fatalf("GradeSheet failed: %v", err)
	}
	if res.Score != "1/1" {
		t.Errorf("unexpected score %s", res.Score)
	}
}

func TestStagedName(t *testing.T) {
	testCases := []struct {
		role     string
		raw      omr.RawImage
		expected string
	}{
		{raw: omr.RawImage{Name: "scan.jpg", Format: omr.FormatPNG}, expected: "scan.png"},
		{raw: omr.RawImage{Name: "", Format: omr.FormatJPEG}, expected: "sheet.jpeg"},
		{role: "student", raw: omr.RawImage{Name: "dir/x.png", Format: omr.FormatPNG}, expected: "student-x.png"},
	}
	for _, tc := range testCases {
		if got := stagedName(tc.role, tc.raw); got != tc.expected {
			t.Errorf("expected %s, got %s", tc.expected, got)
		}
	}
}
