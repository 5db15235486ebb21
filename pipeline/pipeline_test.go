package pipeline

import (
	"errors"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-phones/models"
)

type mockWriter struct {
	mu          sync.Mutex
	batches     [][]*models.SpecRecord
	writeErr    error
	validateErr error
}

func (mw *mockWriter) Write(records []*models.SpecRecord) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	if mw.writeErr != nil {
		return mw.writeErr
	}
	copyBatch := make([]*models.SpecRecord, len(records))
	copy(copyBatch, records)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	return nil
}

func (mw *mockWriter) Validate() error {
	return mw.validateErr
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func newRecord(url, name string) *models.SpecRecord {
	record := models.NewSpecRecord(nil, url, name)
	record.Set("Battery - Type", "Li-Ion 1000 mAh")
	return record
}

func TestPipelineProcessValidation(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer)

	valid := newRecord("https://www.gsmarena.com/acer_betouch_e400-3113.php", "Acer Betouch E400")
	invalid := newRecord("", "No Url")

	if err := p.Process(valid, invalid, nil); err != nil {
		t.Fatalf("process: %v", err)
	}

	if got := writer.totalWritten(); got != 1 {
		t.Fatalf("written records = %d, want 1", got)
	}
	if p.Processed() != 1 {
		t.Fatalf("processed = %d, want 1", p.Processed())
	}

	metrics := p.GetMetrics()
	validation, ok := metrics["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_record"] != 1 {
		t.Fatalf("invalid_record = %d, want 1", validation["invalid_record"])
	}
}

func TestPipelineKeepsRepeatedURLs(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer)

	url := "https://www.gsmarena.com/acer_betouch_e400-3113.php"
	for i := 0; i < 2; i++ {
		if err := p.Process(newRecord(url, "Acer Betouch E400")); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if got := writer.totalWritten(); got != 2 {
		t.Fatalf("written records = %d, want 2 (one per input line)", got)
	}
}

func TestPipelineWriteErrorIsReturned(t *testing.T) {
	writeErr := errors.New("disk full")
	p := NewPipeline(&mockWriter{writeErr: writeErr})

	err := p.Process(newRecord("https://www.gsmarena.com/a.php", "A"))
	if !errors.Is(err, writeErr) {
		t.Fatalf("expected write error, got %v", err)
	}
	if p.Processed() != 0 {
		t.Fatalf("failed write must not count as processed")
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer)
	p.StartMetricsReporting(0)

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	err := p.Process(newRecord("https://www.gsmarena.com/a.php", "A"))
	if !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
	if writer.totalWritten() != 0 {
		t.Fatalf("closed pipeline must not write")
	}
}

func TestPipelineEmptyProcess(t *testing.T) {
	writer := &mockWriter{}
	p := NewPipeline(writer)

	if err := p.Process(); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(writer.batches) != 0 {
		t.Fatalf("empty process must not reach the writer")
	}
}
