package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"

	"github.com/cognicore/usermodel/pkg/usermodel"
)

// maxPageBytes bounds how much of a response is read.
const maxPageBytes = 4 << 20

// Extract turns an HTML document into a scraped page. Headers are the
// title and every h1-h6 heading; the body is the readable article text,
// or the paragraphs and list items when no article can be found.
func Extract(r io.Reader, contentType, pageURL string) (usermodel.Page, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxPageBytes))
	if err != nil {
		return usermodel.Page{}, fmt.Errorf("read page: %w", err)
	}

	enc, _, _ := charset.DetermineEncoding(data, contentType)
	utf8data, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		if !utf8.Valid(data) {
			return usermodel.Page{}, fmt.Errorf("decode page: %w", err)
		}
		utf8data = data
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(utf8data))
	if err != nil {
		return usermodel.Page{}, fmt.Errorf("parse page: %w", err)
	}
	doc.Find("script,noscript,style").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	page := usermodel.Page{URL: pageURL, Headers: []string{}}
	if title := collapse(doc.Find("title").First().Text()); title != "" {
		page.Headers = append(page.Headers, title)
	}
	doc.Find("h1,h2,h3,h4,h5,h6").Each(func(i int, s *goquery.Selection) {
		if text := collapse(s.Text()); text != "" {
			page.Headers = append(page.Headers, text)
		}
	})

	page.Body = readableLines(utf8data, pageURL)
	if len(page.Body) == 0 {
		doc.Find("p,li").Each(func(i int, s *goquery.Selection) {
			if text := collapse(s.Text()); text != "" {
				page.Body = append(page.Body, text)
			}
		})
	}
	return page, nil
}

func readableLines(data []byte, pageURL string) []string {
	var u *url.URL
	if pageURL != "" {
		u, _ = url.Parse(pageURL)
	}
	article, err := readability.FromReader(bytes.NewReader(data), u)
	if err != nil {
		return nil
	}

	var lines []string
	for _, line := range strings.Split(article.TextContent, "\n") {
		if line = collapse(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// File extracts a page from an HTML file on disk. The charset is sniffed
// from the document itself.
func File(path, pageURL string) (usermodel.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return usermodel.Page{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Extract(f, "", pageURL)
}

// Fetcher downloads and extracts pages over HTTP.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with the given request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: timeout}}
}

// NewFetcherWithClient creates a Fetcher with a custom HTTP client (for testing).
func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch downloads pageURL and extracts it.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (usermodel.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return usermodel.Page{}, fmt.Errorf("creating request for %s: %w", pageURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return usermodel.Page{}, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return usermodel.Page{}, fmt.Errorf("fetching %s returned status %d", pageURL, resp.StatusCode)
	}
	return Extract(resp.Body, resp.Header.Get("Content-Type"), pageURL)
}
