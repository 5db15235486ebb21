package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-phones/models"
)

func testRecord(fields []string) *models.SpecRecord {
	record := models.NewSpecRecord(fields, "https://www.gsmarena.com/acer_betouch_e400-3113.php", "Acer Betouch E400")
	record.Set("Battery - Type", "Removable Li-Ion 1000 mAh battery")
	record.Set("Platform - OS", "Android 1.5, \"Cupcake\"")
	record.ScrapedAt = time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC)
	return record
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gsmarena_filled.csv")

	writer, err := NewCSVWriter(path, models.DefaultFields)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file must not exist before the first write")
	}

	if err := writer.Write([]*models.SpecRecord{testRecord(nil)}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	records := readCSV(t, path)
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if len(records[0]) != len(models.DefaultFields) || records[0][0] != "URL" || records[0][1] != "Name" {
		t.Fatalf("unexpected header: %v", records[0])
	}

	row := records[1]
	if row[0] != "https://www.gsmarena.com/acer_betouch_e400-3113.php" || row[1] != "Acer Betouch E400" {
		t.Fatalf("unexpected identity columns: %v", row[:2])
	}
	for i, field := range models.DefaultFields {
		switch field {
		case "Battery - Type":
			if row[i] != "Removable Li-Ion 1000 mAh battery" {
				t.Errorf("%s = %q", field, row[i])
			}
		case "Platform - OS":
			if row[i] != "Android 1.5, \"Cupcake\"" {
				t.Errorf("%s = %q", field, row[i])
			}
		case models.FieldURL, models.FieldName:
		default:
			if row[i] != models.Unknown {
				t.Errorf("%s = %q, want %q", field, row[i], models.Unknown)
			}
		}
	}
}

func TestCSVWriterAppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "gsmarena_filled.csv")

	for run := 0; run < 2; run++ {
		writer, err := NewCSVWriter(path, models.DefaultFields)
		if err != nil {
			t.Fatalf("create csv writer: %v", err)
		}
		if err := writer.Validate(); err != nil {
			t.Fatalf("validate before run %d: %v", run, err)
		}
		for i := 0; i < 3; i++ {
			if err := writer.Write([]*models.SpecRecord{testRecord(nil)}); err != nil {
				t.Fatalf("write csv: %v", err)
			}
		}
	}

	records := readCSV(t, path)
	if len(records) != 7 {
		t.Fatalf("records=%d, want header plus 6 rows", len(records))
	}
	headers := 0
	for _, r := range records {
		if r[0] == "URL" {
			headers++
		}
	}
	if headers != 1 {
		t.Fatalf("header written %d times, want once", headers)
	}
}

func TestCSVWriterHeaderForEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	writer, err := NewCSVWriter(path, []string{"URL", "Name"})
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write([]*models.SpecRecord{testRecord([]string{"URL", "Name"})}); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	records := readCSV(t, path)
	if len(records) != 2 || records[0][0] != "URL" {
		t.Fatalf("expected header then row, got %v", records)
	}
}

func TestCSVWriterValidateHeaderMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.csv")
	if err := os.WriteFile(path, []byte("title,price\nbook,10\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	writer, err := NewCSVWriter(path, models.DefaultFields)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Validate(); err == nil {
		t.Fatalf("expected header mismatch error")
	}
}

func TestCSVWriterRequiresFields(t *testing.T) {
	if _, err := NewCSVWriter(filepath.Join(t.TempDir(), "x.csv"), nil); err == nil {
		t.Fatalf("expected error for empty column list")
	}
}

func TestJSONWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gsmarena_filled.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := writer.Write([]*models.SpecRecord{testRecord(nil)}); err != nil {
			t.Fatalf("write json: %v", err)
		}
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded map[string]string
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		if decoded["Name"] != "Acer Betouch E400" || decoded["SAR EU"] != models.Unknown {
			t.Fatalf("unexpected object: %v", decoded)
		}
		if decoded["scraped_at"] != "2025-11-04T13:09:13Z" {
			t.Fatalf("scraped_at = %q", decoded["scraped_at"])
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if count != 2 {
		t.Fatalf("json lines=%d, want 2", count)
	}
}

func TestJSONWriterValidateRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte("{\"URL\":\"a\"}\nnot json\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	err = writer.Validate()
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected error on line 2, got %v", err)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "gsmarena_filled.csv")
	jsonPath := filepath.Join(dir, "gsmarena_filled.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath, models.DefaultFields)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.Write([]*models.SpecRecord{testRecord(nil)}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}

func TestDualWriterKeepsCSVWhenJSONFails(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "gsmarena_filled.csv")
	jsonPath := filepath.Join(dir, "gsmarena_filled.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath, models.DefaultFields)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	// A directory in place of the JSONL file makes every JSON append fail.
	if err := os.Mkdir(jsonPath, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := writer.Write([]*models.SpecRecord{testRecord(nil)}); err != nil {
		t.Fatalf("write should succeed on the CSV side: %v", err)
	}
	if got := writer.JSONFailures(); got != 1 {
		t.Fatalf("json failures = %d, want 1", got)
	}

	rows := readCSV(t, csvPath)
	if len(rows) != 2 {
		t.Fatalf("csv rows = %d, want header + 1", len(rows))
	}
}
