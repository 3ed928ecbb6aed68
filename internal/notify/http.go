package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bartek5186/pcmcatalog/internal/db"
	"github.com/rs/zerolog"
)

type HTTPConfig struct {
	BaseURL    string `json:"base_url"` // https://shop.example.com
	Path       string `json:"path"`     // default /catalog/published
	Username   string `json:"username"`
	Secret     string `json:"secret"`
	TimeoutSec int    `json:"timeout_sec"`
}

// HTTPNotifier POSTs the published version as JSON to the shop / indexer endpoint.
type HTTPNotifier struct {
	log  zerolog.Logger
	cfg  HTTPConfig
	http *http.Client
}

func NewHTTPNotifier(log zerolog.Logger, cfg HTTPConfig) (*HTTPNotifier, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("http notifier: base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("http notifier: base_url: %w", err)
	}
	if cfg.Path == "" {
		cfg.Path = "/catalog/published"
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPNotifier{
		log:  log,
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}, nil
}

func (h *HTTPNotifier) Name() string { return "http" }

func (h *HTTPNotifier) Published(ctx context.Context, rec *db.ProductVersion) error {
	msg, err := NewMessage(rec)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	body, err := msg.JSON()
	if err != nil {
		return err
	}

	u, _ := url.Parse(h.cfg.BaseURL)
	u.Path = strings.TrimRight(u.Path, "/") + h.cfg.Path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pcmcatalog/1.0")
	if h.cfg.Username != "" {
		req.SetBasicAuth(h.cfg.Username, h.cfg.Secret)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("push %s v%d: %w", rec.EntityCode, rec.Version, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push %s v%d: http %d: %s", rec.EntityCode, rec.Version, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	h.log.Debug().
		Str("entity_code", rec.EntityCode).
		Int("version", rec.Version).
		Msg("published version pushed")
	return nil
}

func httpFactory(log zerolog.Logger, raw json.RawMessage) (Notifier, error) {
	var cfg HTTPConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return NewHTTPNotifier(log, cfg)
}

func init() {
	Register("http", httpFactory)
}
