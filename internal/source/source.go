// Package source loads physiological recordings from a study folder laid
// out as <root>/<participant>/<session>/<modality>/, each recording being a
// headerless gzip TSV (*_physio.tsv.gz) with a JSON sidecar describing its
// columns and sampling frequency.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"physio-annotator/internal/annotation"
)

const (
	// DefaultWorkingRate is the rate every signal is resampled to, in Hz.
	DefaultWorkingRate = 1000

	physioSuffix    = "_physio.tsv.gz"
	recordingSuffix = ".tsv.gz"
	correctedSuffix = "_corrected.json"
)

// Column names recognised for each modality, lower case.
var columnNames = map[annotation.SignalType][]string{
	annotation.ECG:  {"ecg", "ekg", "cardiac", "electrocardiogram"},
	annotation.PPG:  {"ppg", "pleth", "photoplethysmogram", "pulse"},
	annotation.RESP: {"resp", "rsp", "respiration", "respiratory", "breathing", "breath"},
}

// Config describes where recordings live and the defaults applied to
// incomplete selectors.
type Config struct {
	DataFolder      string
	OutputFolder    string
	WorkingRate     int
	DefaultSession  string
	DefaultModality string
	DefaultPattern  string
}

// sidecar is the subset of the recording's JSON metadata we rely on.
type sidecar struct {
	SamplingFrequency float64  `json:"SamplingFrequency"`
	Columns           []string `json:"Columns"`
	StartTime         *float64 `json:"StartTime"`
	EndTime           *float64 `json:"EndTime"`
}

// Folder is a study-folder backed annotation.SignalSource.
type Folder struct {
	cfg   Config
	codec *annotation.Codec
	log   *slog.Logger
}

// New returns a Folder reading recordings under cfg.DataFolder. Prior
// corrections are read through codec. log may be nil.
func New(cfg Config, codec *annotation.Codec, log *slog.Logger) *Folder {
	if cfg.WorkingRate <= 0 {
		cfg.WorkingRate = DefaultWorkingRate
	}
	if cfg.OutputFolder == "" {
		cfg.OutputFolder = filepath.Join(cfg.DataFolder, "corrected")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Folder{cfg: cfg, codec: codec, log: log}
}

// Participants implements annotation.SignalSource. It returns the sorted
// sub-* folders holding at least one matching recording.
func (f *Folder) Participants(session, modality, pattern string) ([]string, error) {
	session, modality, pattern = f.defaults(session, modality, pattern)
	if err := checkLocal(pattern, session, modality); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(f.cfg.DataFolder)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: data folder %s does not exist", annotation.ErrNoRecording, f.cfg.DataFolder)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", f.cfg.DataFolder, err)
	}

	ids := []string{}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "sub-") {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(f.cfg.DataFolder, e.Name(), session, modality, globFor(pattern, recordingSuffix)))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid pattern %q", annotation.ErrNoRecording, pattern)
		}
		if len(matches) > 0 {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Open implements annotation.SignalSource. When sel names no participant the
// first participant with a matching recording is used.
func (f *Folder) Open(sel annotation.Selector) (*annotation.Recording, error) {
	sel.Session, sel.Modality, sel.Pattern = f.defaults(sel.Session, sel.Modality, sel.Pattern)
	if err := checkLocal(sel.Pattern, sel.Session, sel.Modality); err != nil {
		return nil, err
	}
	if sel.Participant == "" {
		ids, err := f.Participants(sel.Session, sel.Modality, sel.Pattern)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: no participant has a %q recording in %s/%s",
				annotation.ErrNoRecording, sel.Pattern, sel.Session, sel.Modality)
		}
		sel.Participant = ids[0]
	}
	if err := checkLocal("", sel.Participant); err != nil {
		return nil, err
	}

	dir := filepath.Join(f.cfg.DataFolder, sel.Participant, sel.Session, sel.Modality)
	physio, err := findOne(dir, sel.Pattern, recordingSuffix, annotation.ErrNoRecording)
	if err != nil {
		return nil, err
	}
	meta, err := readSidecar(dir, sel.Pattern)
	if err != nil {
		return nil, err
	}

	col, err := signalColumn(meta.Columns, sel.SignalType)
	if err != nil {
		return nil, err
	}
	raw, err := readColumn(physio, col, len(meta.Columns))
	if err != nil {
		return nil, err
	}

	if !anyFinite(raw) {
		f.log.Warn("signal only contains missing values",
			slog.String("path", physio),
			slog.String("signal_type", string(sel.SignalType)))
		return nil, fmt.Errorf("%w: %s column of %s", annotation.ErrInvalidSignal, meta.Columns[col], physio)
	}
	signal, err := Resample(raw, meta.SamplingFrequency, float64(f.cfg.WorkingRate))
	if err != nil {
		return nil, err
	}

	rec := &annotation.Recording{
		Signal:       signal,
		SamplingRate: f.cfg.WorkingRate,
		Path:         f.CorrectedPath(sel, physio),
	}
	prior, ok, err := f.codec.Load(rec.Path, sel.SignalType)
	if err != nil {
		return nil, err
	}
	if ok {
		rec.Prior = prior
	}

	attrs := []any{
		slog.String("path", physio),
		slog.String("signal_type", string(sel.SignalType)),
		slog.Float64("sampling_frequency", meta.SamplingFrequency),
		slog.Int("samples", len(signal)),
		slog.Bool("prior_corrections", ok),
	}
	if meta.StartTime != nil {
		attrs = append(attrs, slog.Float64("start_time", *meta.StartTime))
	}
	f.log.Info("recording loaded", attrs...)
	return rec, nil
}

// CorrectedPath returns where corrections for the recording at physio are
// stored: <output>/<participant>/<session>/<modality>/<stem>_corrected.json.
func (f *Folder) CorrectedPath(sel annotation.Selector, physio string) string {
	name := filepath.Base(physio)
	stem := strings.TrimSuffix(name, physioSuffix)
	if stem == name {
		stem = strings.TrimSuffix(name, recordingSuffix)
	}
	return filepath.Join(f.cfg.OutputFolder, sel.Participant, sel.Session, sel.Modality, stem+correctedSuffix)
}

func (f *Folder) defaults(session, modality, pattern string) (string, string, string) {
	if session == "" {
		session = f.cfg.DefaultSession
	}
	if modality == "" {
		modality = f.cfg.DefaultModality
	}
	if pattern == "" {
		pattern = f.cfg.DefaultPattern
	}
	return session, modality, pattern
}

// checkLocal rejects folder names and a file name pattern that would reach
// outside the data folder.
func checkLocal(pattern string, folders ...string) error {
	for _, name := range folders {
		if !filepath.IsLocal(name) {
			return fmt.Errorf("%w: invalid folder name %q", annotation.ErrNoRecording, name)
		}
	}
	if strings.ContainsAny(pattern, `/\`) || strings.Contains(pattern, "..") {
		return fmt.Errorf("%w: invalid pattern %q", annotation.ErrNoRecording, pattern)
	}
	return nil
}

// findOne returns the single file of dir matching *pattern*suffix. No match
// yields notFound, several matches ErrAmbiguousRecording.
func findOne(dir, pattern, suffix string, notFound error) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, globFor(pattern, suffix)))
	if err != nil {
		return "", fmt.Errorf("%w: invalid pattern %q", notFound, pattern)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no *%s*%s file in %s", notFound, pattern, suffix, dir)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%w: %d *%s*%s files in %s (%s); use a longer pattern",
			annotation.ErrAmbiguousRecording, len(matches), pattern, suffix, dir, strings.Join(names(matches), ", "))
	}
}

func readSidecar(dir, pattern string) (*sidecar, error) {
	path, err := findOne(dir, pattern, ".json", annotation.ErrNoMetadata)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var meta sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", annotation.ErrNoMetadata, path, err)
	}
	if meta.SamplingFrequency <= 0 || math.IsNaN(meta.SamplingFrequency) {
		return nil, fmt.Errorf("%w: %s has no SamplingFrequency", annotation.ErrNoMetadata, path)
	}
	if len(meta.Columns) == 0 {
		return nil, fmt.Errorf("%w: %s has no Columns", annotation.ErrNoMetadata, path)
	}
	return &meta, nil
}

// signalColumn returns the index of the first column naming st.
func signalColumn(columns []string, st annotation.SignalType) (int, error) {
	known, ok := columnNames[st]
	if !ok {
		return 0, fmt.Errorf("%w: %q", annotation.ErrUnknownSignalType, st)
	}
	for i, c := range columns {
		name := strings.ToLower(strings.TrimSpace(c))
		for _, k := range known {
			if name == k {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: no %s column among %v", annotation.ErrNoRecording, st, columns)
}

func globFor(pattern, suffix string) string {
	return "*" + pattern + "*" + suffix
}

func names(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

func anyFinite(x []float64) bool {
	for _, v := range x {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
