// Package fixturejson archives ingested records as JSON lines in the format
// memstore.Load reads back.
package fixturejson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"procresolver/internal/logger"
	"procresolver/pkg/models"
)

type line struct {
	Event *models.Event `json:"event,omitempty"`
	Alert *models.Alert `json:"alert,omitempty"`
}

// Writer appends events and alerts to a JSONL file.
type Writer struct {
	file    *os.File
	buf     *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter opens path for appending.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	logger.Infof("Fixture JSON writer initialized: %s", path)
	buf := bufio.NewWriter(f)
	return &Writer{file: f, buf: buf, encoder: json.NewEncoder(buf)}, nil
}

// WriteEvents appends a batch of events.
func (w *Writer) WriteEvents(events []*models.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, ev := range events {
		if err := w.encoder.Encode(line{Event: ev}); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return w.buf.Flush()
}

// WriteAlerts appends a batch of alerts.
func (w *Writer) WriteAlerts(alerts []*models.Alert) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, a := range alerts {
		if err := w.encoder.Encode(line{Alert: a}); err != nil {
			return fmt.Errorf("failed to encode alert: %w", err)
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush output file: %w", err)
	}
	err := w.file.Close()
	w.file = nil
	return err
}
