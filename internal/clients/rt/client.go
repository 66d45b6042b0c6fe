// Package rt is a thin client for the request-tracker ticketing
// service. Network-level failures are reported as transient so callers
// can retry; rejections from the service itself are permanent.
package rt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/wferr"
)

// Client is the ticket surface the workflow steps use. keepNew on a
// reply stops the tracker from flipping the ticket out of its "new"
// state, so a curator queue ordered by state keeps the ticket visible.
type Client interface {
	CreateTicket(ctx context.Context, t NewTicket) (int64, error)
	ReplyTicket(ctx context.Context, ticketID int64, body string, keepNew bool) error
	CloseTicket(ctx context.Context, ticketID int64) error
}

type NewTicket struct {
	Queue     string `json:"queue"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Requestor string `json:"requestor,omitempty"`
	RecID     string `json:"recid,omitempty"`
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type httpClient struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger
}

func NewClient(cfg Config, baseLog *logger.Logger) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  baseLog.With("client", "rt"),
	}
}

func (c *httpClient) CreateTicket(ctx context.Context, t NewTicket) (int64, error) {
	var out struct {
		TicketID int64 `json:"ticket_id"`
	}
	if err := c.post(ctx, "/api/tickets", t, &out); err != nil {
		return 0, err
	}
	c.log.Info("Ticket created", "queue", t.Queue, "ticket_id", out.TicketID)
	return out.TicketID, nil
}

func (c *httpClient) ReplyTicket(ctx context.Context, ticketID int64, body string, keepNew bool) error {
	payload := map[string]any{"body": body, "keep_new": keepNew}
	return c.post(ctx, fmt.Sprintf("/api/tickets/%d/reply", ticketID), payload, nil)
}

func (c *httpClient) CloseTicket(ctx context.Context, ticketID int64) error {
	return c.post(ctx, fmt.Sprintf("/api/tickets/%d/close", ticketID), map[string]any{}, nil)
}

func (c *httpClient) post(ctx context.Context, path string, payload any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return wferr.Permanent("rt.encode", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return wferr.Permanent("rt.request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wferr.Transient("rt.post "+path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 500:
		return wferr.Transient("rt.post "+path, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	case resp.StatusCode >= 400:
		return wferr.Permanent("rt.post "+path, fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return wferr.Permanent("rt.decode "+path, err)
		}
	}
	return nil
}
