// Package pipeline moves documents from the ingest queues into the event
// store.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	inputredis "procresolver/internal/input/redis"
	"procresolver/internal/lifecycle"
	"procresolver/internal/logger"
	"procresolver/internal/transform/sysmon"
	"procresolver/pkg/models"
)

var (
	log = logger.Named("ingest")

	ingestMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procresolver_ingest_messages_total",
		Help: "Ingest messages by kind and outcome",
	}, []string{"kind", "outcome"})

	ingestWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "procresolver_ingest_written_total",
		Help: "Records written to the event store",
	}, []string{"kind"})
)

// Config tunes the ingest pipeline.
type Config struct {
	// AlertsKey marks messages that carry alert documents; everything else
	// is treated as a Sysmon record.
	AlertsKey     string
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
	RetryBackoff  time.Duration
}

// Ingest consumes queued documents and writes events and alerts in batches.
type Ingest struct {
	source Source
	mapper *lifecycle.Mapper
	events EventWriter
	alerts AlertWriter
	cfg    Config
}

type workItem struct {
	events []models.Event
	alert  *models.Alert
}

// NewIngest creates the pipeline.
func NewIngest(source Source, mapper *lifecycle.Mapper, events EventWriter, alerts AlertWriter, cfg Config) *Ingest {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Ingest{source: source, mapper: mapper, events: events, alerts: alerts, cfg: cfg}
}

// Run blocks until ctx is done, then flushes what was mapped.
func (p *Ingest) Run(ctx context.Context) error {
	log.Infof("Ingest pipeline started (workers=%d, batch=%d)", p.cfg.Workers, p.cfg.BatchSize)

	msgCh := make(chan inputredis.Message, p.cfg.Workers*4)
	workCh := make(chan workItem, p.cfg.Workers*4)

	var workers, writer sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.workerLoop(msgCh, workCh)
		}()
	}
	writer.Add(1)
	go func() {
		defer writer.Done()
		p.writeLoop(ctx, workCh)
	}()

	p.readLoop(ctx, msgCh)
	close(msgCh)
	workers.Wait()
	close(workCh)
	writer.Wait()
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *Ingest) Close() error {
	if p.alerts != nil {
		if err := p.alerts.Close(); err != nil {
			log.Errorf("Failed to close alert writer: %v", err)
		}
	}
	if p.events != nil {
		if err := p.events.Close(); err != nil {
			log.Errorf("Failed to close event writer: %v", err)
		}
	}
	if p.source != nil {
		return p.source.Close()
	}
	return nil
}

func (p *Ingest) readLoop(ctx context.Context, out chan<- inputredis.Message) {
	for ctx.Err() == nil {
		msg, ok, err := p.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("Failed to pop redis message: %v", err)
			sleep(ctx, 500*time.Millisecond)
			continue
		}
		if !ok {
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Ingest) workerLoop(in <-chan inputredis.Message, out chan<- workItem) {
	for msg := range in {
		if p.cfg.AlertsKey != "" && msg.Key == p.cfg.AlertsKey {
			alert, err := lifecycle.DecodeAlert(msg.Payload)
			if err != nil {
				ingestMessages.WithLabelValues("alert", "invalid").Inc()
				log.Warnf("Dropping alert: %v", err)
				continue
			}
			ingestMessages.WithLabelValues("alert", "ok").Inc()
			out <- workItem{alert: alert}
			continue
		}

		raw, err := sysmon.Parse(msg.Payload)
		if err != nil {
			ingestMessages.WithLabelValues("sysmon", "invalid").Inc()
			log.Warnf("Failed to parse sysmon event: %v", err)
			continue
		}
		events := p.mapper.Map(raw)
		if len(events) == 0 {
			ingestMessages.WithLabelValues("sysmon", "skipped").Inc()
			continue
		}
		ingestMessages.WithLabelValues("sysmon", "ok").Inc()
		out <- workItem{events: events}
	}
}

// writeLoop batches until the batch size or the flush interval is reached.
// Store writes are idempotent, so a failed batch is retried whole.
func (p *Ingest) writeLoop(ctx context.Context, in <-chan workItem) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var batchEvents []*models.Event
	var batchAlerts []*models.Alert

	flush := func() {
		if len(batchEvents) > 0 {
			if p.retry(ctx, "events", func() error { return p.events.WriteEvents(batchEvents) }) {
				ingestWritten.WithLabelValues("event").Add(float64(len(batchEvents)))
			}
			batchEvents = nil
		}
		if p.alerts != nil && len(batchAlerts) > 0 {
			if p.retry(ctx, "alerts", func() error { return p.alerts.WriteAlerts(batchAlerts) }) {
				ingestWritten.WithLabelValues("alert").Add(float64(len(batchAlerts)))
			}
			batchAlerts = nil
		}
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case item, ok := <-in:
			if !ok {
				flush()
				return
			}
			for i := range item.events {
				batchEvents = append(batchEvents, &item.events[i])
			}
			if item.alert != nil {
				batchAlerts = append(batchAlerts, item.alert)
			}
			if len(batchEvents)+len(batchAlerts) >= p.cfg.BatchSize {
				flush()
			}
		}
	}
}

// retry writes until success. Once ctx is done a failing batch is dropped.
func (p *Ingest) retry(ctx context.Context, what string, write func() error) bool {
	for attempt := 1; ; attempt++ {
		err := write()
		if err == nil {
			return true
		}
		log.Errorf("Failed to write %s (attempt %d): %v", what, attempt, err)
		if ctx.Err() != nil {
			log.Errorf("Dropping %s batch on shutdown", what)
			return false
		}
		sleep(ctx, p.cfg.RetryBackoff)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
