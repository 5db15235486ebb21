package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-scrape-phones/models"
)

// DualWriter outputs to both CSV and JSON formats simultaneously
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex

	jsonFailures int
}

// NewDualWriter creates a new dual writer for both CSV and JSON output
func NewDualWriter(csvFilename, jsonFilename string, fields []string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		return nil, fmt.Errorf("failed to create JSON writer: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write writes records to both CSV and JSON formats. The CSV file is the
// primary output: its failure is returned, while a JSONL failure after a
// successful CSV write is logged and counted so the run keeps going. The
// JSONL file can then be missing rows the CSV has.
func (dw *DualWriter) Write(records []*models.SpecRecord) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(records); err != nil {
		return fmt.Errorf("CSV write failed: %w", err)
	}

	if err := dw.jsonWriter.Write(records); err != nil {
		dw.jsonFailures++
		slog.Warn("JSONL write failed, CSV row kept",
			slog.String("file", dw.jsonWriter.path),
			slog.Int("records", len(records)),
			slog.Any("error", err),
		)
	}

	return nil
}

// JSONFailures returns how many writes reached the CSV file but not the
// JSONL file.
func (dw *DualWriter) JSONFailures() int {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.jsonFailures
}

// Close closes both writers
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	return errors.Join(dw.csvWriter.Close(), dw.jsonWriter.Close())
}

// Validate validates both output files
func (dw *DualWriter) Validate() error {
	var errs []error

	if err := dw.csvWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("CSV validation failed: %w", err))
	}

	if err := dw.jsonWriter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("JSON validation failed: %w", err))
	}

	return errors.Join(errs...)
}
