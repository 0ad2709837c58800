package annotation

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeSource serves in-memory recordings keyed by participant.
type fakeSource struct {
	recordings map[string]*Recording
	err        error
	opened     []Selector
}

func (f *fakeSource) Open(sel Selector) (*Recording, error) {
	f.opened = append(f.opened, sel)
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.recordings[sel.Participant]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRecording, sel.Participant)
	}
	return rec, nil
}

func (f *fakeSource) Participants(string, string, string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var ids []string
	for id := range f.recordings {
		ids = append(ids, id)
	}
	return ids, nil
}

func newTestService(t *testing.T) (*Service, *fakeSource, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sub-01", "sub-01_task-rest_corrected.json")
	src := &fakeSource{recordings: map[string]*Recording{
		"sub-01": {Signal: ramp(200, 105), SamplingRate: 1000, Path: path},
	}}
	det := &countingDetector{peaks: []int{20, 80}}
	svc := NewService(NewInMemoryRepository(), src, det, NewCodec(nil), nil)
	return svc, src, path
}

func openTestSession(t *testing.T, svc *Service) SessionView {
	t.Helper()
	view, err := svc.Open(Selector{Participant: "sub-01", SignalType: "ecg"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return view
}

func TestService_Open(t *testing.T) {
	svc, src, path := newTestService(t)
	view := openTestSession(t, svc)

	if src.opened[0].SignalType != ECG {
		t.Errorf("expected normalized signal type ECG, got %q", src.opened[0].SignalType)
	}
	if view.Path != path || view.SamplingRate != 1000 || view.Mode != Correction {
		t.Errorf("unexpected view: %+v", view)
	}
	want := Snapshot{Length: 200, Peaks: []int{20, 80}, Valid: true}
	if diff := cmp.Diff(want, view.Snapshot); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if svc.OpenSessionCount() != 1 {
		t.Errorf("expected 1 open session, got %d", svc.OpenSessionCount())
	}
}

func TestService_Open_errors(t *testing.T) {
	t.Run("unknown_signal_type", func(t *testing.T) {
		svc, src, _ := newTestService(t)
		_, err := svc.Open(Selector{Participant: "sub-01", SignalType: "eeg"})
		if !errors.Is(err, ErrUnknownSignalType) {
			t.Errorf("expected ErrUnknownSignalType, got %v", err)
		}
		if len(src.opened) != 0 {
			t.Error("source should not be consulted for an unknown signal type")
		}
	})

	t.Run("no_recording", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.Open(Selector{Participant: "sub-99", SignalType: ECG})
		if !errors.Is(err, ErrNoRecording) {
			t.Errorf("expected ErrNoRecording, got %v", err)
		}
	})

	t.Run("detection_failed", func(t *testing.T) {
		src := &fakeSource{recordings: map[string]*Recording{
			"sub-01": {Signal: ramp(10, -1), SamplingRate: 100, Path: "x.json"},
		}}
		det := &countingDetector{err: errors.New("too short")}
		svc := NewService(NewInMemoryRepository(), src, det, NewCodec(nil), nil)
		_, err := svc.Open(Selector{Participant: "sub-01", SignalType: PPG})
		if !errors.Is(err, ErrDetectionFailed) {
			t.Errorf("expected ErrDetectionFailed, got %v", err)
		}
		if svc.OpenSessionCount() != 0 {
			t.Error("no session should be registered for an unusable signal")
		}
	})
}

func TestService_edit_and_view(t *testing.T) {
	svc, _, _ := newTestService(t)
	id := openTestSession(t, svc).ID

	if err := svc.InsertPeak(id, 150); err != nil {
		t.Fatal(err)
	}
	if err := svc.RemovePeaks(id, Interval{0, 50}); err != nil {
		t.Fatal(err)
	}
	op, err := svc.Apply(id, Secondary, Interval{100, 110})
	if err != nil || op != OpInsertStrongestPeak {
		t.Fatalf("Apply: op=%q err=%v", op, err)
	}
	if err := svc.SetMode(id, Rejection); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Apply(id, Primary, Interval{180, 260}); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkBad(id, Interval{10, 30}); err != nil {
		t.Fatal(err)
	}
	if err := svc.UnmarkBad(id, Interval{20, 25}); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetValid(id, false); err != nil {
		t.Fatal(err)
	}

	view, err := svc.View(id)
	if err != nil {
		t.Fatal(err)
	}
	want := Snapshot{
		Length:      200,
		Peaks:       []int{80, 105, 150},
		BadSegments: ivs(10, 20, 25, 30, 180, 200),
		Valid:       false,
	}
	if diff := cmp.Diff(want, view.Snapshot); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	if view.Mode != Rejection {
		t.Errorf("expected rejection mode, got %q", view.Mode)
	}
	if view.Revision != 7 {
		t.Errorf("expected revision 7, got %d", view.Revision)
	}

	d, err := svc.Diff(id)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(PeaksDiff{Added: []int{105, 150}, Removed: []int{20}}, d); diff != "" {
		t.Errorf("diff mismatch (-want +got):\n%s", diff)
	}
}

func TestService_logs_every_change(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	_, src, _ := newTestService(t)
	svc := NewService(NewInMemoryRepository(), src, &countingDetector{peaks: []int{20, 80}}, NewCodec(nil), log)
	id := openTestSession(t, svc).ID

	const edits = 40
	var wg sync.WaitGroup
	for i := range edits {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.InsertPeak(id, 100+i); err != nil {
				t.Errorf("InsertPeak(%d): %v", 100+i, err)
			}
		}()
	}
	wg.Wait()

	view, err := svc.View(id)
	if err != nil {
		t.Fatal(err)
	}
	if view.Revision != edits {
		t.Errorf("expected revision %d, got %d", edits, view.Revision)
	}
	changes := strings.Count(buf.String(), `"msg":"annotation changed","session_id":"`+string(id)+`"`)
	if changes != edits {
		t.Errorf("expected %d logged changes, got %d", edits, changes)
	}
}

func TestService_rejected_edit_leaves_state(t *testing.T) {
	svc, _, _ := newTestService(t)
	view := openTestSession(t, svc)

	if err := svc.InsertPeak(view.ID, 200); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := svc.SetMode(view.ID, Mode("zoom")); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
	after, _ := svc.View(view.ID)
	if diff := cmp.Diff(view, after); diff != "" {
		t.Errorf("rejected edits changed the session (-before +after):\n%s", diff)
	}
}

func TestService_Save_then_reopen(t *testing.T) {
	svc, _, path := newTestService(t)
	id := openTestSession(t, svc).ID
	_ = svc.InsertPeak(id, 150)
	_ = svc.MarkBad(id, Interval{0, 10})

	got, err := svc.Save(id)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got != path {
		t.Errorf("expected path %s, got %s", path, got)
	}

	prior, ok, err := NewCodec(nil).Load(path, ECG)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	want := Block{Valid: true, CorrectedPeaks: []int{20, 80, 150}, BadSegments: []int{0, 10}}
	if diff := cmp.Diff(want, *prior); diff != "" {
		t.Errorf("saved block mismatch (-want +got):\n%s", diff)
	}
}

func TestService_unknown_session(t *testing.T) {
	svc, _, _ := newTestService(t)
	id := SessionID("missing")

	checks := map[string]error{
		"view":  func() error { _, err := svc.View(id); return err }(),
		"mode":  svc.SetMode(id, Rejection),
		"peak":  svc.InsertPeak(id, 1),
		"save":  func() error { _, err := svc.Save(id); return err }(),
		"close": svc.Close(id),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("%s: expected ErrSessionNotFound, got %v", name, err)
		}
	}
}

func TestService_Close(t *testing.T) {
	svc, _, _ := newTestService(t)
	id := openTestSession(t, svc).ID

	if err := svc.Close(id); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := svc.View(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after close, got %v", err)
	}
}
