// Package literature queries the published-literature search API for
// curated authors whose raw affiliation text matches a given string.
package literature

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bibflow/holdingpen-backend/internal/domain"
	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/wferr"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger
}

func NewClient(cfg Config, baseLog *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  baseLog.With("client", "literature"),
	}
}

// FindMatchingAuthors returns curated authors from accepted literature
// whose raw affiliation equals rawAffiliation. Only authors that carry
// resolved affiliations are useful to the caller, so the API already
// filters for those.
func (c *Client) FindMatchingAuthors(ctx context.Context, rawAffiliation string) ([]domain.Author, error) {
	u := fmt.Sprintf("%s/api/literature/authors?raw_affiliation=%s", c.cfg.BaseURL, url.QueryEscape(rawAffiliation))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, wferr.Permanent("literature.search", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wferr.Transient("literature.search", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode >= 500 {
		return nil, wferr.Transient("literature.search", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wferr.Permanent("literature.search", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var out struct {
		Authors []domain.Author `json:"authors"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, wferr.Permanent("literature.decode", err)
	}
	return out.Authors, nil
}
