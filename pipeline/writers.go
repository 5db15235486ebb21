package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-phones/models"
)

// CSVWriter appends spec rows to a CSV file. The file is reopened for every
// Write and closed again once the rows are on disk, so a crash never loses a
// row that was reported as written.
type CSVWriter struct {
	path   string
	fields []string
	mu     sync.Mutex
}

// NewCSVWriter prepares a writer for filename. Nothing is created until the
// first Write.
func NewCSVWriter(filename string, fields []string) (*CSVWriter, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("csv writer needs at least one column")
	}
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return &CSVWriter{
		path:   filename,
		fields: slices.Clone(fields),
	}, nil
}

// Write appends one row per record, writing the header first when the file
// is missing or empty.
func (cw *CSVWriter) Write(records []*models.SpecRecord) error {
	if len(records) == 0 {
		return nil
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	needHeader, err := isMissingOrEmpty(cw.path)
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}

	f, err := os.OpenFile(cw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if needHeader {
		if err := writer.Write(cw.fields); err != nil {
			f.Close()
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	for _, record := range records {
		if err := writer.Write(record.RowFor(cw.fields)); err != nil {
			f.Close()
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush csv records: %w", err)
	}

	return syncAndClose(f)
}

// Close is a no-op: no handle outlives a Write.
func (cw *CSVWriter) Close() error {
	return nil
}

// Validate checks that an existing output file starts with the configured
// header, so appended rows line up with its columns. A missing or empty file
// is valid.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	f, err := os.Open(cw.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	if !slices.Equal(header, cw.fields) {
		return fmt.Errorf("csv header of %s has %d columns that do not match the %d configured fields", cw.path, len(header), len(cw.fields))
	}
	return nil
}

// JSONWriter appends newline-delimited JSON objects, one per record.
type JSONWriter struct {
	path string
	mu   sync.Mutex
}

// NewJSONWriter prepares a JSONL writer for filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return &JSONWriter{path: filename}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []*models.SpecRecord) error {
	if len(records) == 0 {
		return nil
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	f, err := os.OpenFile(jw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, record := range records {
		if err := encoder.Encode(jsonRecord(record)); err != nil {
			f.Close()
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := buffer.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}

	return syncAndClose(f)
}

// Close is a no-op: no handle outlives a Write.
func (jw *JSONWriter) Close() error {
	return nil
}

// Validate checks that every line of an existing output file is a JSON
// object.
func (jw *JSONWriter) Validate() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	f, err := os.Open(jw.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open json file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var obj map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &obj); err != nil {
			return fmt.Errorf("json line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read json file: %w", err)
	}
	return nil
}

func jsonRecord(record *models.SpecRecord) map[string]string {
	out := record.Map()
	if _, taken := out["scraped_at"]; !taken && !record.ScrapedAt.IsZero() {
		out["scraped_at"] = record.ScrapedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func isMissingOrEmpty(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return info.Size() == 0, nil
}

func syncAndClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.Name(), err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
