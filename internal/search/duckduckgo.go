// Package search looks up short web context about a merchant.
package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"firefly-ai-categorize/internal/categorize"
	"firefly-ai-categorize/internal/config"
)

const DefaultBaseURL = "https://html.duckduckgo.com/html/"

var _ categorize.MerchantContextProvider = (*DuckDuckGo)(nil)

// DuckDuckGo scrapes the HTML results page. Search never fails: errors,
// timeouts and empty pages all yield ok=false.
type DuckDuckGo struct {
	client     *http.Client
	baseURL    string
	timeout    time.Duration
	maxResults int
	log        *zerolog.Logger
}

func NewDuckDuckGo(cfg config.SearchConfig, client *http.Client, log *zerolog.Logger) *DuckDuckGo {
	if client == nil {
		client = &http.Client{}
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 3
	}
	return &DuckDuckGo{client: client, baseURL: base, timeout: timeout, maxResults: maxResults, log: log}
}

func (d *DuckDuckGo) Search(ctx context.Context, merchantName string) (string, bool) {
	if strings.TrimSpace(merchantName) == "" {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	doc, err := d.fetch(ctx, merchantName)
	if err != nil {
		d.log.Debug().Err(err).Str("merchant", merchantName).Msg("merchant search failed")
		return "", false
	}

	var lines []string
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title := clean(s.Find(".result__a").First().Text())
		snippet := clean(s.Find(".result__snippet").First().Text())
		if title == "" && snippet == "" {
			return true
		}
		switch {
		case snippet == "":
			lines = append(lines, title)
		case title == "":
			lines = append(lines, snippet)
		default:
			lines = append(lines, title+": "+snippet)
		}
		return len(lines) < d.maxResults
	})

	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

func (d *DuckDuckGo) fetch(ctx context.Context, merchantName string) (*goquery.Document, error) {
	form := url.Values{"q": {merchantName}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "firefly-ai-categorize/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	return doc, nil
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Disabled is used when search is turned off in config.
type Disabled struct{}

func (Disabled) Search(context.Context, string) (string, bool) { return "", false }
