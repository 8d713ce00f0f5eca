package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/bytedance/sonic"
)

type SerpAPI struct {
	endpoint string
	key      string
	max      int
	client   *http.Client
}

func NewSerpAPI(cfg Config, client *http.Client) *SerpAPI {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &SerpAPI{endpoint: cfg.SerpAPIURL, key: cfg.SerpAPIKey, max: cfg.MaxResults, client: client}
}

func (s *SerpAPI) Name() string { return "serpapi" }

type serpResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Title string `json:"title"`
		Link  string `json:"link"`
	} `json:"organic_results"`
}

func (s *SerpAPI) Search(ctx context.Context, query string) (Results, error) {
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("api_key", s.key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	var out serpResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, out.Error)
	}

	var res Results
	for _, r := range out.OrganicResults {
		if len(res) >= s.max {
			break
		}
		if r.Title == "" || r.Link == "" {
			continue
		}
		res = append(res, Result{Title: r.Title, Link: r.Link})
	}
	return res, nil
}
