// Package robotupload submits records to the legacy ingestion endpoint
// and interprets its plain-text protocol.
package robotupload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bibflow/holdingpen-backend/internal/pkg/logger"
	"github.com/bibflow/holdingpen-backend/internal/workflows/wferr"
)

// Modes accepted by the legacy endpoint.
const (
	ModeInsert  = "insert"
	ModeReplace = "replace"
)

// The legacy endpoint answers with a text body; anything not opening
// with the info marker is a rejection. The IP refusal is a permanent
// configuration problem, never worth retrying.
const (
	acceptedMarker = "[INFO]"
	ipRefusal      = "cannot use the service"
)

type Request struct {
	Payload     []byte
	Mode        string
	CallbackURL string
	Nonce       string
	Priority    int
}

type Client interface {
	Submit(ctx context.Context, req Request) error
}

type Config struct {
	BaseURL string
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
		timeout = 60 * time.Second
	}
	return &httpClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  baseLog.With("client", "robotupload"),
	}
}

/*
Submit posts the record payload. Acceptance only means the upload was
queued on the legacy side; the definitive outcome arrives later on the
callback URL. Connection problems and 5xx are transient; a rejection
body or the IP refusal is permanent.
*/
func (c *httpClient) Submit(ctx context.Context, r Request) error {
	url := fmt.Sprintf("%s/batchuploader/robotupload/%s", strings.TrimRight(c.cfg.BaseURL, "/"), r.Mode)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(r.Payload))
	if err != nil {
		return wferr.Permanent("robotupload.request", err)
	}
	req.Header.Set("Content-Type", "application/marcxml+xml")
	req.Header.Set("User-Agent", "holdingpen")
	if r.CallbackURL != "" {
		req.Header.Set("X-Batchupload-Callback-Url", r.CallbackURL)
	}
	if r.Nonce != "" {
		req.Header.Set("X-Batchupload-Nonce", r.Nonce)
	}
	if r.Priority > 0 {
		req.Header.Set("X-Batchupload-Priority", fmt.Sprint(r.Priority))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wferr.Transient("robotupload.submit", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	text := string(body)

	if resp.StatusCode >= 500 {
		return wferr.Transient("robotupload.submit", fmt.Errorf("status %d: %s", resp.StatusCode, text))
	}
	if strings.Contains(text, ipRefusal) {
		return wferr.Permanent("robotupload.submit", fmt.Errorf("server refused this host: %s", strings.TrimSpace(text)))
	}
	if !strings.HasPrefix(text, acceptedMarker) {
		return wferr.Permanent("robotupload.submit", fmt.Errorf("upload not accepted: %s", strings.TrimSpace(text)))
	}
	c.log.Info("Robotupload accepted", "mode", r.Mode, "response", strings.TrimSpace(text))
	return nil
}
