package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"omr-grader/internal/logger"
	"omr-grader/internal/ocr"
	"omr-grader/internal/omr"
	"omr-grader/internal/store"
	"omr-grader/internal/tempstore"
)

// Grader runs single requests through normalize, recognize or diff, extract
// and score. It holds no per-request state and is safe for concurrent use.
type Grader struct {
	c *Clients
}

func NewGrader(c *Clients) *Grader {
	return &Grader{c: c}
}

func (g *Grader) Clients() *Clients { return g.c }

func (g *Grader) newTracker(op string) (string, *tracker) {
	id := uuid.NewString()
	t := &tracker{log: logger.WithFields(logrus.Fields{"request_id": id, "op": op})}
	t.to(StateReceived)
	return id, t
}

// GradeSheet recognizes the answers on raw and scores them against key.
func (g *Grader) GradeSheet(ctx context.Context, raw omr.RawImage, key omr.AnswerKey) (res omr.GradingResult, err error) {
	id, t := g.newTracker("grade")

	if err := raw.Validate(); err != nil {
		return omr.GradingResult{}, t.fail(err)
	}
	if err := key.Validate(g.c.Extractor.Alphabet()); err != nil {
		return omr.GradingResult{}, t.fail(err)
	}

	staged, err := g.stage(id, stagedName("", raw), raw)
	if err != nil {
		return omr.GradingResult{}, t.fail(err)
	}
	defer func() { g.finish(t, staged, err) }()

	if err := ctx.Err(); err != nil {
		return omr.GradingResult{}, t.fail(err)
	}
	normalized, err := g.c.Images.ForRecognition(raw)
	if err != nil {
		return omr.GradingResult{}, t.fail(err)
	}
	t.to(StateNormalized, logrus.Fields{"width": normalized.Width, "height": normalized.Height})

	recognized, err := g.recognize(ctx, normalized)
	if err != nil {
		return omr.GradingResult{}, t.fail(err)
	}
	t.to(StateRecognized, logrus.Fields{"engine": recognized.Engine, "chars": len(recognized.Text)})

	extracted := g.c.Extractor.Extract(recognized.Text, len(key))
	t.to(StateExtracted)

	res, err = g.c.Scorer.Score(extracted, key)
	if err != nil {
		return omr.GradingResult{}, t.fail(err)
	}
	res.RequestID = id
	res.RecognizedText = recognized.Text
	res.Confidence = recognized.Confidence
	t.to(StateScored, logrus.Fields{"score": res.Score})

	g.record(ctx, t, store.NewRecord(store.KindGrade, raw.Name, g.c.Engine.Name(), res))
	t.to(StateCompleted, logrus.Fields{"score": res.Score})
	return res, nil
}

// CompareSheets estimates a score for student from its pixel mismatch with correct.
func (g *Grader) CompareSheets(ctx context.Context, correct, student omr.RawImage, totalQuestions int) (res omr.GradingResult, err error) {
	id, t := g.newTracker("compare")

	if err := correct.Validate(); err != nil {
		return omr.GradingResult{}, t.fail(fmt.Errorf("correct sheet: %w", err))
	}
	if err := student.Validate(); err != nil {
		return omr.GradingResult{}, t.fail(fmt.Errorf("student sheet: %w", err))
	}
	if totalQuestions <= 0 {
		return omr.GradingResult{}, t.fail(omr.Errorf(omr.KindInvalidKeyLength, "compare", "total questions must be positive, got %d", totalQuestions))
	}

	var staged []*tempstore.Staged
	defer func() { g.finish(t, staged, err) }()
	for role, raw := range map[string]omr.RawImage{"correct": correct, "student": student} {
		s, err := g.stage(id, stagedName(role, raw), raw)
		if err != nil {
			return omr.GradingResult{}, t.fail(err)
		}
		staged = append(staged, s...)
	}

	var a, b omr.NormalizedImage
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		n, err := g.c.Images.ForComparison(correct)
		if err != nil {
			return fmt.Errorf("correct sheet: %w", err)
		}
		a = n
		return nil
	})
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		n, err := g.c.Images.ForComparison(student)
		if err != nil {
			return fmt.Errorf("student sheet: %w", err)
		}
		b = n
		return nil
	})
	if err := eg.Wait(); err != nil {
		return omr.GradingResult{}, t.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return omr.GradingResult{}, t.fail(err)
	}
	t.to(StateNormalized, logrus.Fields{"width": a.Width, "height": a.Height})

	metric, err := g.c.Differ.Diff(a, b)
	if err != nil {
		return omr.GradingResult{}, t.fail(err)
	}
	t.to(StateDiffed, logrus.Fields{"mismatch": metric.Percentage})

	res, err = g.c.Scorer.ScoreFromMismatch(metric, totalQuestions)
	if err != nil {
		return omr.GradingResult{}, t.fail(err)
	}
	res.RequestID = id
	t.to(StateScored, logrus.Fields{"score": res.Score})

	g.record(ctx, t, store.NewRecord(store.KindCompare, student.Name, "", res))
	t.to(StateCompleted, logrus.Fields{"score": res.Score})
	return res, nil
}

// recognize bounds the engine call by the configured timeout.
func (g *Grader) recognize(ctx context.Context, img omr.NormalizedImage) (ocr.RecognizedText, error) {
	if g.c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.c.Timeout)
		defer cancel()
	}
	return g.c.Engine.Recognize(ctx, img, g.c.Options)
}

func (g *Grader) stage(id, name string, raw omr.RawImage) ([]*tempstore.Staged, error) {
	if g.c.Temp == nil {
		return nil, nil
	}
	s, err := g.c.Temp.Stage(id, name, raw.Data)
	if err != nil {
		return nil, fmt.Errorf("staging %s: %w", raw.Name, err)
	}
	return []*tempstore.Staged{s}, nil
}

// finish keeps staged inputs on success and deletes them otherwise.
func (g *Grader) finish(t *tracker, staged []*tempstore.Staged, err error) {
	for _, s := range staged {
		var cerr error
		if err == nil {
			cerr = s.Keep()
		} else {
			cerr = s.Discard()
		}
		if cerr != nil {
			t.log.WithError(cerr).Warn("temp file cleanup failed")
		}
	}
}

// record hands the result to the ledger. The request has already succeeded,
// so a ledger failure is only logged.
func (g *Grader) record(ctx context.Context, t *tracker, rec store.Record) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.c.Recorder.Record(ctx, rec); err != nil {
		t.log.WithError(err).Warn("recording result failed")
	}
}

// stagedName keeps the upload's base name with an extension matching its content.
func stagedName(role string, raw omr.RawImage) string {
	name := trimExt(filepath.Base(raw.Name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "sheet"
	}
	if role != "" {
		name = role + "-" + name
	}
	return fmt.Sprintf("%s.%s", name, raw.Format)
}
