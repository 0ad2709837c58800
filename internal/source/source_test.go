package source

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"physio-annotator/internal/annotation"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSession  = "ses-session1"
	testModality = "beh"
	testStem     = "_ses-session1_task-rest"
)

// writeRecording writes a gzip TSV recording and its sidecar for participant
// under root. Column 0 is cardiac, column 1 respiratory.
func writeRecording(t *testing.T, root, participant string, rate float64, cardiac []string) string {
	t.Helper()
	dir := filepath.Join(root, participant, testSession, testModality)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var b strings.Builder
	for i, v := range cardiac {
		fmt.Fprintf(&b, "%s\t%d\t0\n", v, i%5)
	}
	physio := filepath.Join(dir, participant+testStem+"_physio.tsv.gz")
	writeGzip(t, physio, b.String())

	writeSidecar(t, filepath.Join(dir, participant+testStem+"_physio.json"), map[string]any{
		"SamplingFrequency": rate,
		"StartTime":         -1.5,
		"Columns":           []string{"cardiac", "respiratory", "trigger"},
	})
	return dir
}

func writeGzip(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := gzip.NewWriter(f)
	_, err = zw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func writeSidecar(t *testing.T, path string, meta map[string]any) {
	t.Helper()
	data, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func ramp(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%d", i)
	}
	return out
}

func newTestFolder(root string) *Folder {
	return New(Config{
		DataFolder:      root,
		DefaultSession:  testSession,
		DefaultModality: testModality,
		DefaultPattern:  "task-",
	}, annotation.NewCodec(nil), nil)
}

func TestFolder_Open(t *testing.T) {
	root := t.TempDir()
	writeRecording(t, root, "sub-01", 100, ramp(50))
	f := newTestFolder(root)

	rec, err := f.Open(annotation.Selector{Participant: "sub-01", SignalType: annotation.ECG})
	require.NoError(t, err)

	assert.Equal(t, DefaultWorkingRate, rec.SamplingRate)
	require.Len(t, rec.Signal, 500)
	assert.InDelta(t, 0, rec.Signal[0], 1e-9)
	assert.InDelta(t, 1, rec.Signal[10], 1e-9)
	assert.InDelta(t, 2.5, rec.Signal[25], 1e-9)
	assert.InDelta(t, 49, rec.Signal[499], 1e-9)
	assert.Nil(t, rec.Prior)

	want := filepath.Join(root, "corrected", "sub-01", testSession, testModality, "sub-01"+testStem+"_corrected.json")
	assert.Equal(t, want, rec.Path)
}

func TestFolder_Open_loads_prior_corrections(t *testing.T) {
	root := t.TempDir()
	writeRecording(t, root, "sub-01", 100, ramp(50))
	f := newTestFolder(root)
	sel := annotation.Selector{Participant: "sub-01", SignalType: annotation.ECG}

	rec, err := f.Open(sel)
	require.NoError(t, err)
	state, err := annotation.NewState(rec.Signal, make([]bool, len(rec.Signal)))
	require.NoError(t, err)
	require.NoError(t, state.InsertPeak(250))
	require.NoError(t, state.MarkBad(annotation.Interval{Start: 0, End: 100}))
	require.NoError(t, annotation.NewCodec(nil).Save(rec.Path, annotation.ECG, state))

	again, err := f.Open(sel)
	require.NoError(t, err)
	require.NotNil(t, again.Prior)
	assert.Equal(t, []int{250}, again.Prior.CorrectedPeaks)
	assert.Equal(t, []int{0, 100}, again.Prior.BadSegments)

	// The respiration block has not been saved yet.
	resp, err := f.Open(annotation.Selector{Participant: "sub-01", SignalType: annotation.RESP})
	require.NoError(t, err)
	assert.Nil(t, resp.Prior)
}

func TestFolder_Open_defaults_to_first_participant(t *testing.T) {
	root := t.TempDir()
	writeRecording(t, root, "sub-02", 100, ramp(20))
	writeRecording(t, root, "sub-01", 100, ramp(30))

	rec, err := newTestFolder(root).Open(annotation.Selector{SignalType: annotation.ECG})
	require.NoError(t, err)
	assert.Contains(t, rec.Path, filepath.Join("corrected", "sub-01"))
	assert.Len(t, rec.Signal, 300)
}

func TestFolder_Open_errors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, dir string)
		sel   annotation.Selector
		want  error
	}{
		{
			name: "no_recording_for_participant",
			sel:  annotation.Selector{Participant: "sub-09", SignalType: annotation.ECG},
			want: annotation.ErrNoRecording,
		},
		{
			name: "ambiguous_recording",
			setup: func(t *testing.T, dir string) {
				writeGzip(t, filepath.Join(dir, "sub-01_ses-session1_task-rest_run-2_physio.tsv.gz"), "1\t2\t3\n")
			},
			sel:  annotation.Selector{Participant: "sub-01", SignalType: annotation.ECG},
			want: annotation.ErrAmbiguousRecording,
		},
		{
			name: "no_sidecar",
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(filepath.Join(dir, "sub-01"+testStem+"_physio.json")))
			},
			sel:  annotation.Selector{Participant: "sub-01", SignalType: annotation.ECG},
			want: annotation.ErrNoMetadata,
		},
		{
			name: "sidecar_without_rate",
			setup: func(t *testing.T, dir string) {
				writeSidecar(t, filepath.Join(dir, "sub-01"+testStem+"_physio.json"), map[string]any{
					"Columns": []string{"cardiac", "respiratory", "trigger"},
				})
			},
			sel:  annotation.Selector{Participant: "sub-01", SignalType: annotation.ECG},
			want: annotation.ErrNoMetadata,
		},
		{
			name: "missing_column",
			sel:  annotation.Selector{Participant: "sub-01", SignalType: annotation.PPG},
			want: annotation.ErrNoRecording,
		},
		{
			name: "escaping_participant",
			sel:  annotation.Selector{Participant: "../sub-01", SignalType: annotation.ECG},
			want: annotation.ErrNoRecording,
		},
		{
			name: "escaping_session",
			sel:  annotation.Selector{Participant: "sub-01", Session: "../..", SignalType: annotation.ECG},
			want: annotation.ErrNoRecording,
		},
		{
			name: "escaping_pattern",
			sel:  annotation.Selector{Participant: "sub-01", Pattern: "/../task-", SignalType: annotation.ECG},
			want: annotation.ErrNoRecording,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			dir := writeRecording(t, root, "sub-01", 100, ramp(20))
			if tt.setup != nil {
				tt.setup(t, dir)
			}
			rec, err := newTestFolder(root).Open(tt.sel)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, rec)
		})
	}
}

func TestFolder_Open_stays_inside_data_folder(t *testing.T) {
	base := t.TempDir()
	data := filepath.Join(base, "data")
	writeRecording(t, data, "sub-01", 100, ramp(20))

	outside := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(outside, 0o755))
	writeGzip(t, filepath.Join(outside, "secret_physio.tsv.gz"), "1\t0\t0\n2\t0\t0\n3\t0\t0\n")
	writeSidecar(t, filepath.Join(outside, "secret_physio.json"), map[string]any{
		"SamplingFrequency": 100,
		"Columns":           []string{"cardiac", "respiratory", "trigger"},
	})

	f := newTestFolder(data)
	for _, pattern := range []string{"/../../../../../outside/secret", `..\outside`, "../../../../outside/secret"} {
		rec, err := f.Open(annotation.Selector{Participant: "sub-01", Pattern: pattern, SignalType: annotation.ECG})
		assert.ErrorIs(t, err, annotation.ErrNoRecording, pattern)
		assert.Nil(t, rec, pattern)
	}

	_, err := f.Open(annotation.Selector{Session: "../../outside", Modality: ".", Pattern: "secret", SignalType: annotation.ECG})
	assert.ErrorIs(t, err, annotation.ErrNoRecording)
}

func TestFolder_Open_all_missing_signal(t *testing.T) {
	root := t.TempDir()
	writeRecording(t, root, "sub-01", 100, []string{"n/a", "", "n/a", "n/a"})

	_, err := newTestFolder(root).Open(annotation.Selector{Participant: "sub-01", SignalType: annotation.ECG})
	assert.ErrorIs(t, err, annotation.ErrInvalidSignal)
}

func TestFolder_Participants(t *testing.T) {
	root := t.TempDir()
	writeRecording(t, root, "sub-02", 100, ramp(10))
	writeRecording(t, root, "sub-01", 100, ramp(10))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub-03", testSession, testModality), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "derivatives"), 0o755))

	f := newTestFolder(root)

	ids, err := f.Participants("", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-01", "sub-02"}, ids)

	ids, err = f.Participants(testSession, testModality, "task-nback")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = newTestFolder(filepath.Join(root, "missing")).Participants("", "", "")
	assert.ErrorIs(t, err, annotation.ErrNoRecording)

	for _, args := range [][3]string{
		{"../..", testModality, ""},
		{testSession, "/etc", ""},
		{testSession, testModality, "/../../../sub-01/" + testSession + "/" + testModality + "/sub-01"},
	} {
		ids, err := f.Participants(args[0], args[1], args[2])
		assert.ErrorIs(t, err, annotation.ErrNoRecording, args)
		assert.Nil(t, ids, args)
	}
}

func TestFolder_CorrectedPath(t *testing.T) {
	f := New(Config{DataFolder: "/data", OutputFolder: "/out"}, annotation.NewCodec(nil), nil)
	sel := annotation.Selector{Participant: "sub-01", Session: "ses-1", Modality: "beh"}

	assert.Equal(t, "/out/sub-01/ses-1/beh/sub-01_task-x_corrected.json",
		f.CorrectedPath(sel, "/data/sub-01/ses-1/beh/sub-01_task-x_physio.tsv.gz"))
	assert.Equal(t, "/out/sub-01/ses-1/beh/rec_corrected.json",
		f.CorrectedPath(sel, "/data/sub-01/ses-1/beh/rec.tsv.gz"))
}

func TestParseColumn(t *testing.T) {
	got, err := parseColumn(strings.NewReader("1.5\t2\nn/a\t3\n\t4\nx\t5\n"), 0, 2)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, 1.5, got[0])
	for _, v := range got[1:] {
		assert.True(t, math.IsNaN(v))
	}

	_, err = parseColumn(strings.NewReader("1\t2\n3\n"), 0, 2)
	assert.ErrorContains(t, err, "line 2")
}
