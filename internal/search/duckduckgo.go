package search

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

var (
	reResultLink = regexp.MustCompile(`(?s)<a[^>]+class="[^"]*result__a[^"]*"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)
	reTag        = regexp.MustCompile(`<[^>]+>`)
)

// DuckDuckGo scrapes the JS-free HTML endpoint.
type DuckDuckGo struct {
	endpoint  string
	userAgent string
	max       int
	client    *http.Client
}

func NewDuckDuckGo(cfg Config, client *http.Client) *DuckDuckGo {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &DuckDuckGo{endpoint: cfg.DuckDuckGoURL, userAgent: cfg.UserAgent, max: cfg.MaxResults, client: client}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string) (Results, error) {
	form := url.Values{}
	form.Set("q", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	return parseDuckDuckGo(string(body), d.max), nil
}

func parseDuckDuckGo(page string, limit int) Results {
	var res Results
	for _, m := range reResultLink.FindAllStringSubmatch(page, -1) {
		if len(res) >= limit {
			break
		}
		link := decodeRedirect(html.UnescapeString(m[1]))
		title := strings.TrimSpace(html.UnescapeString(reTag.ReplaceAllString(m[2], "")))
		if title == "" || link == "" {
			continue
		}
		res = append(res, Result{Title: title, Link: link})
	}
	return res
}

// decodeRedirect unwraps //duckduckgo.com/l/?uddg=<target> links.
func decodeRedirect(raw string) string {
	if !strings.Contains(raw, "uddg=") {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if v := u.Query().Get("uddg"); v != "" {
		return v
	}
	return raw
}
