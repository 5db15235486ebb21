package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/aluiziolira/go-scrape-phones/models"
)

// LoadEntries reads one URL per line from path, skipping blank lines, and
// derives a display name for each. Despite the usual .csv name the file is
// not comma separated.
func LoadEntries(path string) ([]models.PhoneEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url list: %w", err)
	}
	defer f.Close()

	entries := make([]models.PhoneEntry, 0, 64)
	reader := bufio.NewReader(f)
	for first := true; ; first = false {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, fmt.Errorf("read url list: %w", readErr)
		}
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if url := strings.TrimSpace(line); url != "" {
			entries = append(entries, models.PhoneEntry{URL: url, Name: LabelFromURL(url)})
		}
		if readErr != nil {
			return entries, nil
		}
	}
}

// LabelFromURL turns the last path segment into a display name:
// ".../acer_betouch_e400.php" becomes "Acer Betouch E400". Only the first
// rune of each underscore-separated token is upper-cased; the rest of the
// token is lower-cased, so "3g-8789" stays "3g-8789".
func LabelFromURL(url string) string {
	segment := url
	if i := strings.LastIndex(segment, "/"); i >= 0 {
		segment = segment[i+1:]
	}
	segment = strings.TrimSuffix(segment, ".php")

	parts := strings.Split(segment, "_")
	for i, part := range parts {
		parts[i] = capitalize(part)
	}
	return strings.Join(parts, " ")
}

func capitalize(token string) string {
	_, size := utf8.DecodeRuneInString(token)
	if size == 0 {
		return token
	}
	return cases.Upper(language.Und).String(token[:size]) + cases.Lower(language.Und).String(token[size:])
}
