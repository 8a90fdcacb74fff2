package pipeline

import (
	"github.com/sirupsen/logrus"

	"omr-grader/internal/omr"
)

type State string

const (
	StateReceived   State = "received"
	StateNormalized State = "normalized"
	StateRecognized State = "recognized"
	StateDiffed     State = "diffed"
	StateExtracted  State = "extracted"
	StateScored     State = "scored"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// tracker logs every state transition of one request.
type tracker struct {
	log   *logrus.Entry
	state State
}

func (t *tracker) to(s State, fields ...logrus.Fields) {
	t.state = s
	entry := t.log.WithField("state", s)
	for _, f := range fields {
		entry = entry.WithFields(f)
	}
	if s == StateCompleted || s == StateReceived {
		entry.Info("request " + string(s))
		return
	}
	entry.Debug("request " + string(s))
}

// fail records the terminal Failed state and returns err unchanged.
func (t *tracker) fail(err error) error {
	kind := omr.KindOf(err)
	if kind == "" {
		kind = "Unknown"
	}
	t.log.WithFields(logrus.Fields{
		"state": StateFailed,
		"after": t.state,
		"kind":  kind,
	}).WithError(err).Warn("request failed")
	t.state = StateFailed
	return err
}
