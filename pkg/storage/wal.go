package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/uhyunpark/ordergate/pkg/oms"
)

// FileJournal appends one JSON line per execution report or provider error.
// It is an audit trail only; recovery never reads it.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

type journalEntry struct {
	Time   time.Time            `json:"time"`
	Type   string               `json:"type"`
	Report *oms.ExecutionReport `json:"report,omitempty"`
	Code   int                  `json:"code,omitempty"`
	Msg    string               `json:"msg,omitempty"`
}

func NewFileJournal(path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (w *FileJournal) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.f, line)
}

func (w *FileJournal) OnMessage(rep oms.ExecutionReport) {
	w.write(journalEntry{Time: time.Now(), Type: "report", Report: &rep})
}

func (w *FileJournal) OnProviderError(code int, msg string) {
	w.write(journalEntry{Time: time.Now(), Type: "error", Code: code, Msg: msg})
}

func (w *FileJournal) write(e journalEntry) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	w.Append(string(b))
}

func (w *FileJournal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

var _ oms.Sink = (*FileJournal)(nil)
