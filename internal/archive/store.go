// Package archive persists finalized phrases as append-only JSON lines in a
// local file, one record per phrase. The file can be tailed while callscribe
// runs and is safe to rotate: it is reopened for every write.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/callscribe/internal/segment"
	"github.com/MrWong99/callscribe/internal/transcript"
)

// Record is a single phrase written to the file store.
type Record struct {
	StartedAt    time.Time    `json:"started_at"`
	EndedAt      time.Time    `json:"ended_at"`
	Text         string       `json:"text"`
	Raw          string       `json:"raw,omitempty"`
	Reason       string       `json:"reason"`
	AudioSeconds float64      `json:"audio_seconds"`
	Corrections  []Correction `json:"corrections,omitempty"`
}

// Correction is a vocabulary substitution applied to the phrase.
type Correction struct {
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// FileStore appends phrases as JSON lines to a file.
// Thread-safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on the first write if it does not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file the store appends to.
func (fs *FileStore) Path() string { return fs.path }

// NewRecord builds the record for p after correction. Raw is only set when
// the correction changed the text.
func NewRecord(p segment.Phrase, res transcript.Result) Record {
	r := Record{
		StartedAt:    p.StartedAt,
		EndedAt:      p.EndedAt,
		Text:         res.Text,
		Reason:       p.Reason.String(),
		AudioSeconds: p.Audio.Seconds(),
	}
	if res.Text != p.Text {
		r.Raw = p.Text
	}
	for _, c := range res.Corrections {
		r.Corrections = append(r.Corrections, Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
			Method:     c.Method,
		})
	}
	return r
}

// Append writes record to the file.
func (fs *FileStore) Append(record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("archive: open file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("archive: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("archive: close: %w", err)
	}
	return nil
}
