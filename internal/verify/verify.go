// Package verify spot-checks the citations the oracle attached to a
// report's evidence. Each distinct source URL is fetched and its
// readable content compared against the claimed title. Results are
// reported only; nothing is persisted and pipeline state never changes.
package verify

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/iqsf/safetyindex/internal/store"
)

// Finding is the check result for one cited URL.
type Finding struct {
	URL          string
	Title        string
	OK           bool
	TitleMatched bool
	Reason       string
}

// Result holds the results of a citation check run.
type Result struct {
	Checked  int
	OK       int
	Broken   int
	Findings []Finding
}

// Checker verifies evidence citations over HTTP.
type Checker struct {
	store  store.Store
	client *http.Client
}

// NewChecker creates a new citation checker.
func NewChecker(st store.Store, timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Checker{
		store: st,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// CheckReport fetches every distinct source URL cited in the report's
// evidence. A domain that fails once is skipped for its remaining URLs.
func (c *Checker) CheckReport(ctx context.Context, reportID int64) (*Result, error) {
	r, err := c.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("fetching report: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("report %d: %w", reportID, store.ErrNotFound)
	}

	evidence, err := c.store.GetEvidence(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("fetching evidence: %w", err)
	}

	sources := distinctSources(evidence)
	if len(sources) == 0 {
		log.Printf("Report %d has no cited sources to check", reportID)
		return &Result{}, nil
	}

	result := &Result{}
	failedDomains := make(map[string]struct{})

	for _, src := range sources {
		finding := Finding{URL: src.URL, Title: src.Title}

		domain := hostOf(src.URL)
		if _, failed := failedDomains[domain]; failed {
			finding.Reason = "skipped after earlier failure from " + domain
			result.Broken++
			result.Checked++
			result.Findings = append(result.Findings, finding)
			continue
		}

		text, title, err := c.fetchReadable(ctx, src.URL)
		result.Checked++
		if err != nil {
			finding.Reason = err.Error()
			result.Broken++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			log.Printf("Broken citation %s: %v", src.URL, err)
			result.Findings = append(result.Findings, finding)
			continue
		}

		finding.OK = true
		finding.TitleMatched = titleMatches(src.Title, title, text)
		result.OK++
		if !finding.TitleMatched {
			log.Printf("Citation %s resolves but no longer resembles %q", src.URL, src.Title)
		}
		result.Findings = append(result.Findings, finding)
	}

	log.Printf("Citation check for report %d: %d checked, %d ok, %d broken",
		reportID, result.Checked, result.OK, result.Broken)
	return result, nil
}

func (c *Checker) fetchReadable(ctx context.Context, rawURL string) (text, title string, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("invalid url")
	}
	req.Header.Set("User-Agent", "safetyindex/1.0 (citation checker)")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read failed")
	}

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return "", "", fmt.Errorf("no extractable content")
	}

	text = strings.TrimSpace(article.TextContent)
	if text == "" {
		return "", "", fmt.Errorf("no extractable content")
	}
	return text, article.Title, nil
}

// distinctSources returns each cited URL once, keeping the first title
// it was cited under.
func distinctSources(evidence []store.EvidenceItem) []store.Source {
	seen := make(map[string]struct{})
	var sources []store.Source
	for _, ev := range evidence {
		for _, src := range ev.Sources {
			if src.URL == "" {
				continue
			}
			if _, ok := seen[src.URL]; ok {
				continue
			}
			seen[src.URL] = struct{}{}
			sources = append(sources, src)
		}
	}
	return sources
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// titleMatches reports whether the live page still resembles the cited
// title: any significant title word must appear in the extracted title
// or the start of the text.
func titleMatches(claimed, extracted, text string) bool {
	if claimed == "" {
		return true
	}
	haystack := strings.ToLower(extracted)
	if len(text) > 2000 {
		text = text[:2000]
	}
	haystack += " " + strings.ToLower(text)

	for _, word := range strings.Fields(strings.ToLower(claimed)) {
		word = strings.Trim(word, ".,:;\"'()")
		if len(word) <= 3 {
			continue
		}
		if strings.Contains(haystack, word) {
			return true
		}
	}
	return false
}
