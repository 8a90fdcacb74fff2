package pipeline

import (
	"time"

	"omr-grader/internal/data"
	"omr-grader/internal/diff"
	"omr-grader/internal/image"
	"omr-grader/internal/ocr"
	"omr-grader/internal/scoring"
	"omr-grader/internal/store"
	"omr-grader/internal/tempstore"
)

// Clients bundles the collaborators a grading run needs. The process builds
// it once and passes it into every request.
type Clients struct {
	Engine    ocr.Recognizer
	Images    *image.ImageProcessor
	Extractor *data.AnswerExtractor
	Scorer    *scoring.Engine
	Differ    *diff.Engine
	Temp      *tempstore.Store
	Recorder  store.Recorder
	Options   ocr.Options
	Timeout   time.Duration
	Workers   int
}

type Settings struct {
	Alphabet      string
	Languages     []string
	MaxDimension  int
	CompareCanvas int
	Timeout       time.Duration
	Workers       int
}

// NewClients wires the stateless stages around an already started engine.
// temp and recorder may be nil.
func NewClients(engine ocr.Recognizer, temp *tempstore.Store, recorder store.Recorder, s Settings) *Clients {
	if recorder == nil {
		recorder = store.NopRecorder{}
	}
	extractor := data.NewAnswerExtractor(s.Alphabet)
	return &Clients{
		Engine:    engine,
		Images:    image.NewImageProcessor(s.MaxDimension, s.CompareCanvas),
		Extractor: extractor,
		Scorer:    scoring.NewEngine(),
		Differ:    diff.NewEngine(),
		Temp:      temp,
		Recorder:  recorder,
		Options:   ocr.DefaultOptions(extractor.Alphabet(), s.Languages...),
		Timeout:   s.Timeout,
		Workers:   s.Workers,
	}
}
