package visits

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cognicore/usermodel/pkg/usermodel"
)

// Visit is one recorded page load. A visit carries either the scraped
// headers and body directly or the path of an HTML file to scrape.
type Visit struct {
	URL      string    `json:"url"`
	At       time.Time `json:"at"`
	Headers  []string  `json:"headers,omitempty"`
	Body     []string  `json:"body,omitempty"`
	HTMLPath string    `json:"html_path,omitempty"`
	// Idle marks a return from idle after the page load.
	Idle bool `json:"idle,omitempty"`
}

// Page returns the visit as a scraped page.
func (v Visit) Page() usermodel.Page {
	return usermodel.Page{Headers: v.Headers, Body: v.Body, URL: v.URL}
}

// LoadFromJSONL loads visits from a JSONL file, sorted by time.
func LoadFromJSONL(path string) ([]Visit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	defer f.Close()

	items, err := Read(f, path)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no valid visits found in %s", path)
	}
	return items, nil
}

// Read decodes visits line by line. Malformed or URL-less lines are
// skipped with a warning; name is only used in log messages.
func Read(r io.Reader, name string) ([]Visit, error) {
	var items []Visit
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var v Visit
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			slog.Warn("skipping malformed visit", "file", name, "line", line, "error", err)
			continue
		}
		if v.URL == "" {
			slog.Warn("skipping visit without url", "file", name, "line", line)
			continue
		}
		items = append(items, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", name, err)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].At.Before(items[j].At) })
	return items, nil
}
