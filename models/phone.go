// Package models defines data structures for the scraper.
package models

import (
	"strings"
	"time"
)

// Unknown is written for fields that were not found on the page.
const Unknown = "Unknown"

// Column names that are always set from the input entry rather than the page.
const (
	FieldURL   = "URL"
	FieldName  = "Name"
	FieldPrice = "Price"
)

// DefaultFields is the closed set of output columns, in output order.
var DefaultFields = []string{
	FieldURL, FieldName, "Network - Technology", "Launch - Announced", "Launch - Status",
	"Body - Dimensions", "Body - Weight", "Body - SIM", "Display - Type", "Display - Size",
	"Display - Resolution", "Platform - OS", "Platform - Chipset", "Platform - CPU", "Platform - GPU",
	"Memory - Card slot", "Memory - Internal", "Main Camera - Single", "Main Camera - Video",
	"Selfie camera - Single", "Selfie camera - Video", "Sound - Loudspeaker", "Sound - 3.5mm jack",
	"Comms - WLAN", "Comms - Bluetooth", "Comms - Positioning", "Comms - NFC", "Comms - Radio",
	"Comms - USB", "Features - Sensors", "Battery - Type", "Battery - Talk time", "Battery - Music play",
	"Misc - Colors", "Misc - Models", "SAR EU", FieldPrice,
}

// PhoneEntry is one line of the input file.
type PhoneEntry struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// SpecRecord holds the extracted attributes of one phone page. Values are
// optional per field; absent fields render as Unknown.
type SpecRecord struct {
	URL       string
	Name      string
	ScrapedAt time.Time

	fields []string
	index  map[string]int
	values []*string
}

// NewSpecRecord returns a record over fields with every detail field absent.
// A nil fields slice selects DefaultFields.
func NewSpecRecord(fields []string, url, name string) *SpecRecord {
	if fields == nil {
		fields = DefaultFields
	}
	r := &SpecRecord{
		URL:    url,
		Name:   name,
		fields: fields,
		index:  make(map[string]int, len(fields)),
		values: make([]*string, len(fields)),
	}
	for i, f := range fields {
		r.index[f] = i
	}
	return r
}

// Fields returns the record's column names in order.
func (r *SpecRecord) Fields() []string {
	return r.fields
}

// Has reports whether field belongs to the record's field set.
func (r *SpecRecord) Has(field string) bool {
	_, ok := r.index[field]
	return ok
}

// Set stores value under field. Names outside the field set and blank values
// are ignored; it reports whether the value was stored.
func (r *SpecRecord) Set(field, value string) bool {
	i, ok := r.index[field]
	if !ok {
		return false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	switch field {
	case FieldURL:
		r.URL = value
	case FieldName:
		r.Name = value
	default:
		r.values[i] = &value
	}
	return true
}

// Get returns the value of field and whether it is present.
func (r *SpecRecord) Get(field string) (string, bool) {
	i, ok := r.index[field]
	if !ok {
		return "", false
	}
	switch field {
	case FieldURL:
		return r.URL, r.URL != ""
	case FieldName:
		return r.Name, r.Name != ""
	}
	if r.values[i] == nil {
		return "", false
	}
	return *r.values[i], true
}

// Found returns the number of detail fields present.
func (r *SpecRecord) Found() int {
	n := 0
	for _, v := range r.values {
		if v != nil {
			n++
		}
	}
	return n
}

// Row renders the record in field order.
func (r *SpecRecord) Row() []string {
	return r.RowFor(r.fields)
}

// RowFor renders the record against an explicit column list. Columns the
// record does not carry render as Unknown.
func (r *SpecRecord) RowFor(fields []string) []string {
	row := make([]string, len(fields))
	for i, f := range fields {
		if v, ok := r.Get(f); ok {
			row[i] = v
		} else {
			row[i] = Unknown
		}
	}
	return row
}

// Map renders the record as field -> value.
func (r *SpecRecord) Map() map[string]string {
	out := make(map[string]string, len(r.fields))
	row := r.Row()
	for i, f := range r.fields {
		out[f] = row[i]
	}
	return out
}

// ScraperResult holds the overall result of a scraping run.
type ScraperResult struct {
	StartTime     time.Time
	EndTime       time.Time
	TotalCount    int
	RecordCount   int
	ErrorCount    int
	SkippedURLs   []string
	ErrorsByType  map[string]int
	RetryCount    int
	RotationCount int
	RequestCount  int

	// FailedRequests counts requests that were sent and did not return a
	// 2xx. ErrorCount also includes failures before anything was sent.
	FailedRequests int
}
