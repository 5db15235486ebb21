package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-phones/models"
	"github.com/aluiziolira/go-scrape-phones/parser"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.SpecRecord) error
	Close() error
	Validate() error
}

// Pipeline validates records and hands them to the writer. Process returns
// only after the writer has persisted the records, so a record counted as
// processed is on disk.
type Pipeline struct {
	writer  OutputWriter
	metrics metrics

	mu     sync.Mutex // guards closed and serialises writes
	closed bool

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline around writer.
func NewPipeline(writer OutputWriter) *Pipeline {
	return &Pipeline{
		writer:   writer,
		metrics:  newMetrics(),
		shutdown: make(chan struct{}),
	}
}

// Process validates and writes records. Invalid records are counted and
// dropped; a write failure is returned to the caller.
func (p *Pipeline) Process(records ...*models.SpecRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}

	valid := make([]*models.SpecRecord, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		if err := parser.ValidateRecord(record); err != nil {
			p.metrics.addValidation("invalid_record")
			slog.Warn("dropping invalid record",
				slog.String("url", record.URL),
				slog.Any("error", err),
			)
			continue
		}
		valid = append(valid, record)
	}
	if len(valid) == 0 {
		return nil
	}

	if err := p.writer.Write(valid); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	p.metrics.addProcessed(len(valid))
	return nil
}

// Close prevents more submissions and stops metrics reporting. The writer is
// owned by the caller.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
	return nil
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// Processed returns the number of records written so far.
func (p *Pipeline) Processed() int {
	return int(p.metrics.processedCount())
}

// StartMetricsReporting emits periodic progress logs until Close.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				processed := metrics["processed_records"].(int64)
				validation := metrics["validation_errors"].(map[string]int)
				slog.Info("pipeline progress",
					slog.Int64("processed", processed),
					slog.Int("validation_errors", validation["invalid_record"]),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

type metrics struct {
	mu         sync.Mutex
	processed  int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) addProcessed(n int) {
	m.mu.Lock()
	m.processed += int64(n)
	m.mu.Unlock()
}

func (m *metrics) processedCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"validation_errors": copyValidation,
	}
}
