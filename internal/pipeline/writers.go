package pipeline

import (
	"context"

	inputredis "procresolver/internal/input/redis"
	"procresolver/pkg/models"
)

// Source yields raw ingest messages.
type Source interface {
	Pop(ctx context.Context) (inputredis.Message, bool, error)
	Close() error
}

// EventWriter persists mapped events.
type EventWriter interface {
	WriteEvents(events []*models.Event) error
	Close() error
}

// AlertWriter persists alerts.
type AlertWriter interface {
	WriteAlerts(alerts []*models.Alert) error
	Close() error
}

// Sink stores both events and alerts.
type Sink interface {
	EventWriter
	AlertWriter
}

// Tee writes every batch to each sink in order and stops at the first error.
type Tee []Sink

// WriteEvents implements EventWriter.
func (t Tee) WriteEvents(events []*models.Event) error {
	for _, s := range t {
		if err := s.WriteEvents(events); err != nil {
			return err
		}
	}
	return nil
}

// WriteAlerts implements AlertWriter.
func (t Tee) WriteAlerts(alerts []*models.Alert) error {
	for _, s := range t {
		if err := s.WriteAlerts(alerts); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns the first error.
func (t Tee) Close() error {
	var first error
	for _, s := range t {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
