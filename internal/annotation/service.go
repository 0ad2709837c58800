package annotation

import (
	"errors"
	"fmt"
	"log/slog"
)

// SignalSource locates recordings and loads them at the working rate.
type SignalSource interface {
	// Open loads the recording matching sel together with any prior
	// corrected block for sel.SignalType.
	Open(sel Selector) (*Recording, error)

	// Participants lists participants holding a recording that matches
	// session, modality and pattern.
	Participants(session, modality, pattern string) ([]string, error)
}

// SessionView is what clients see of a session.
type SessionView struct {
	ID           SessionID `json:"id"`
	Selector     Selector  `json:"selector"`
	Path         string    `json:"path"`
	SamplingRate int       `json:"sampling_rate"`
	Mode         Mode      `json:"mode"`
	Revision     int       `json:"revision"`
	Snapshot
}

// PeaksDiff lists the peaks changed by the user since detection.
type PeaksDiff struct {
	Added   []int `json:"added"`
	Removed []int `json:"removed"`
}

// Service opens editing sessions and applies edits and saves to them.
type Service struct {
	repo     Repository
	source   SignalSource
	detector Detector
	codec    *Codec
	log      *slog.Logger
}

// NewService returns a Service. log may be nil.
func NewService(repo Repository, source SignalSource, detector Detector, codec *Codec, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, source: source, detector: detector, codec: codec, log: log}
}

// Open loads the recording for sel, builds its initial state and registers
// a session for it.
func (s *Service) Open(sel Selector) (SessionView, error) {
	st, err := ParseSignalType(string(sel.SignalType))
	if err != nil {
		return SessionView{}, err
	}
	sel.SignalType = st

	rec, err := s.source.Open(sel)
	if err != nil {
		return SessionView{}, err
	}

	state, err := Initialize(rec.Signal, rec.SamplingRate, sel.SignalType, rec.Prior, s.detector)
	if err != nil {
		if errors.Is(err, ErrDetectionFailed) || errors.Is(err, ErrInvalidSignal) {
			s.log.Warn("editor not available for recording",
				slog.String("participant", sel.Participant),
				slog.String("signal_type", string(sel.SignalType)),
				slog.String("error", err.Error()))
		}
		return SessionView{}, err
	}

	sess := s.repo.Create(sel, rec.Path, rec.SamplingRate, state)
	// The session is already reachable through the repository.
	_ = sess.Do(func(e *Editor) error {
		e.State().OnChange(func(c Change) {
			s.log.Debug("annotation changed",
				slog.String("session_id", string(sess.ID)),
				slog.String("op", string(c.Op)),
				slog.Int("start", c.Range.Start),
				slog.Int("end", c.Range.End),
				slog.Int("peaks", len(c.Snapshot.Peaks)),
				slog.Int("bad_segments", len(c.Snapshot.BadSegments)))
		})
		return nil
	})

	s.log.Info("session opened",
		slog.String("session_id", string(sess.ID)),
		slog.String("participant", sel.Participant),
		slog.String("signal_type", string(sel.SignalType)),
		slog.Int("samples", state.Len()),
		slog.Bool("prior_corrections", rec.Prior != nil))
	return s.View(sess.ID)
}

// View returns the current view of a session.
func (s *Service) View(id SessionID) (SessionView, error) {
	var v SessionView
	err := s.do(id, func(sess *Session, e *Editor) error {
		v = SessionView{
			ID:           sess.ID,
			Selector:     sess.Selector,
			Path:         sess.Path,
			SamplingRate: sess.SamplingRate,
			Mode:         e.Mode(),
			Revision:     sess.revision,
			Snapshot:     e.State().Snapshot(),
		}
		return nil
	})
	return v, err
}

// SetMode switches the session's edit mode.
func (s *Service) SetMode(id SessionID, m Mode) error {
	return s.do(id, func(_ *Session, e *Editor) error {
		return e.SetMode(m)
	})
}

// Apply dispatches a gesture according to the session's mode.
func (s *Service) Apply(id SessionID, g Gesture, r Interval) (Op, error) {
	var op Op
	err := s.do(id, func(_ *Session, e *Editor) error {
		var err error
		op, err = e.Apply(g, r)
		return err
	})
	return op, err
}

// InsertPeak flags a single sample as a peak.
func (s *Service) InsertPeak(id SessionID, index int) error {
	return s.do(id, func(_ *Session, e *Editor) error {
		return e.State().InsertPeak(index)
	})
}

// RemovePeaks clears the peaks within r.
func (s *Service) RemovePeaks(id SessionID, r Interval) error {
	return s.do(id, func(_ *Session, e *Editor) error {
		e.State().RemovePeaks(r)
		return nil
	})
}

// MarkBad adds r to the session's bad segments.
func (s *Service) MarkBad(id SessionID, r Interval) error {
	return s.do(id, func(_ *Session, e *Editor) error {
		return e.State().MarkBad(r)
	})
}

// UnmarkBad carves r out of the session's bad segments.
func (s *Service) UnmarkBad(id SessionID, r Interval) error {
	return s.do(id, func(_ *Session, e *Editor) error {
		return e.State().UnmarkBad(r)
	})
}

// SetValid flags the whole recording as usable or not.
func (s *Service) SetValid(id SessionID, valid bool) error {
	return s.do(id, func(_ *Session, e *Editor) error {
		e.State().SetValid(valid)
		return nil
	})
}

// Diff reports the peaks added and removed since detection.
func (s *Service) Diff(id SessionID) (PeaksDiff, error) {
	var d PeaksDiff
	err := s.do(id, func(_ *Session, e *Editor) error {
		d.Added, d.Removed = e.State().Diff()
		return nil
	})
	return d, err
}

// Save writes the session's state to its corrected file. Failures are
// returned to the caller, never dropped.
func (s *Service) Save(id SessionID) (string, error) {
	var path string
	err := s.do(id, func(sess *Session, e *Editor) error {
		path = sess.Path
		if err := s.codec.Save(sess.Path, sess.Selector.SignalType, e.State()); err != nil {
			s.log.Error("save failed",
				slog.String("session_id", string(sess.ID)),
				slog.String("path", sess.Path),
				slog.String("error", err.Error()))
			return err
		}
		return nil
	})
	return path, err
}

// Close ends a session without saving.
func (s *Service) Close(id SessionID) error {
	if err := s.repo.Close(id); err != nil {
		return err
	}
	s.log.Info("session closed", slog.String("session_id", string(id)))
	return nil
}

// Participants lists participants with a matching recording.
func (s *Service) Participants(session, modality, pattern string) ([]string, error) {
	return s.source.Participants(session, modality, pattern)
}

// OpenSessionCount returns the number of open sessions.
func (s *Service) OpenSessionCount() int {
	return s.repo.OpenSessionCount()
}

func (s *Service) do(id SessionID, fn func(sess *Session, e *Editor) error) error {
	sess, ok := s.repo.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess.Do(func(e *Editor) error {
		return fn(sess, e)
	})
}
