package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/polychat-dev/polychat/internal/cache"
)

const (
	searchCacheNamespace = "search"
	searchCacheTTL       = 10 * time.Minute
	searchUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	searchResultCount    = 5
	duckDuckGoHTMLURL    = "https://html.duckduckgo.com/html/"
)

type searchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Search implements web_search (spec §4.9 step 6): queries DuckDuckGo's
// HTML-only result page (no API key needed, unlike Brave) and parses it
// with golang.org/x/net/html rather than regex, since the page markup is
// real, nested HTML and a tokenizer survives markup changes a hand-rolled
// pattern would not. Results are cached per query under spec §4.3's
// per-domain typed cache.
func (s *Service) Search(ctx context.Context, query string) (string, error) {
	if query == "" {
		return "", fmt.Errorf("tools: search: query is required")
	}

	if s.cache != nil {
		if raw, ok := s.cache.Get(searchCacheNamespace, query); ok {
			var results []searchResult
			if err := json.Unmarshal(raw, &results); err == nil {
				return formatSearchResults(query, results), nil
			}
		}
	}

	results, err := s.fetchDuckDuckGo(ctx, query)
	if err != nil {
		return "", fmt.Errorf("tools: search: %w", err)
	}

	if s.cache != nil {
		if raw, err := json.Marshal(results); err == nil {
			_ = s.cache.Set(ctx, searchCacheNamespace, query, json.RawMessage(raw), searchCacheTTL, cache.PersistOnChange)
		}
	}
	return formatSearchResults(query, results), nil
}

func (s *Service) fetchDuckDuckGo(ctx context.Context, query string) ([]searchResult, error) {
	reqURL := duckDuckGoHTMLURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}

	return parseDuckDuckGoResults(resp.Body, searchResultCount)
}

// parseDuckDuckGoResults walks the result page's DOM looking for
// <a class="result__a"> (the result link/title) and the following
// <a class="result__snippet"> (its description), stopping once max
// results have been collected.
func parseDuckDuckGoResults(body io.Reader, max int) ([]searchResult, error) {
	doc, err := html.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var results []searchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= max {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attr(n, "class")
			switch {
			case hasClass(class, "result__a"):
				results = append(results, searchResult{
					Title: strings.TrimSpace(textContent(n)),
					URL:   cleanDuckDuckGoURL(attr(n, "href")),
				})
			case hasClass(class, "result__snippet") && len(results) > 0:
				results[len(results)-1].Description = strings.TrimSpace(textContent(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasClass(class, want string) bool {
	for _, c := range strings.Fields(class) {
		if c == want {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// cleanDuckDuckGoURL unwraps DuckDuckGo's "/l/?uddg=<encoded-url>&..."
// redirect links down to the real destination URL.
func cleanDuckDuckGoURL(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if real := parsed.Query().Get("uddg"); real != "" {
		return real
	}
	return href
}

func formatSearchResults(query string, results []searchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Search results for: %s\n\n", query))
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("%d. %s\n   %s\n", i+1, r.Title, r.URL))
		if r.Description != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", r.Description))
		}
	}
	return sb.String()
}
