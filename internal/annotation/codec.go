package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// document is a corrected file: one block per modality, keyed by the
// lower-cased signal type. Blocks are kept raw so that saving one modality
// rewrites the others byte-for-byte.
type document map[string]json.RawMessage

// Codec reads and writes corrected JSON files. Save performs its
// read-modify-write under a lock so that sessions editing different
// modalities of the same recording never drop each other's blocks.
type Codec struct {
	mu  sync.Mutex
	log *slog.Logger
}

// NewCodec returns a Codec. log may be nil.
func NewCodec(log *slog.Logger) *Codec {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Codec{log: log}
}

// Load returns the block stored for st in the file at path. ok is false when
// the file or the block does not exist.
func (c *Codec) Load(path string, st SignalType) (block *Block, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := readDocument(path)
	if err != nil {
		return nil, false, err
	}
	raw, exists := doc[st.Key()]
	if !exists || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false, nil
	}

	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, false, fmt.Errorf("decode %s block of %s: %w", st.Key(), path, err)
	}
	if len(b.BadSegments)%2 != 0 {
		return nil, false, fmt.Errorf("%w: %s block of %s has an odd bad segment list", ErrCorruptRecord, st.Key(), path)
	}
	return &b, true, nil
}

// Save replaces the block for st in the file at path with the contents of
// state, keeping any other modality's block. Parent directories are created
// as needed and the file is replaced atomically.
func (c *Codec) Save(path string, st SignalType, state *State) error {
	block := state.Block()
	raw, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("encode %s block: %w", st.Key(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	doc[st.Key()] = raw

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	c.log.Info("corrected file saved",
		slog.String("path", path),
		slog.String("signal_type", st.Key()),
		slog.Int("peaks", len(block.CorrectedPeaks)),
		slog.Int("bad_segments", len(block.BadSegments)/2),
		slog.Bool("valid", block.Valid))
	return nil
}

// readDocument returns an empty document when path does not exist.
func readDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	doc := document{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc == nil {
		doc = document{}
	}
	return doc, nil
}

// writeFileAtomic writes data to a temporary file next to path and renames
// it over path, so readers see either the old or the new file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temporary file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temporary file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temporary file for %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temporary file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
