// Package mailstore adapts a REST mail-store service to the MessageSource
// boundary.
package mailstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/domain"
	"github.com/go-resty/resty/v2"
)

// Adapter fetches record content over the mail store's HTTP API.
type Adapter struct {
	client  *resty.Client
	baseURL string
}

// Config holds mail store connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewAdapter creates a mail store adapter.
func NewAdapter(cfg *Config) *Adapter {
	client := resty.New()
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	} else {
		client.SetTimeout(10 * time.Second)
	}

	return &Adapter{
		client:  client,
		baseURL: cfg.BaseURL,
	}
}

type recordResponse struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// GetContent fetches the analyzable text of a record. Missing records are
// permanent failures; anything else about the store is transient.
func (a *Adapter) GetContent(ctx context.Context, recordID string) (string, error) {
	var rec recordResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetResult(&rec).
		Get(fmt.Sprintf("%s/api/v1/records/%s", a.baseURL, recordID))
	if err != nil {
		return "", domain.Transientf("mail store unreachable: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return "", domain.Permanentf("record %s not found in mail store", recordID)
	case resp.StatusCode() < 200 || resp.StatusCode() >= 300:
		return "", domain.Transientf("mail store returned HTTP %d", resp.StatusCode())
	}

	if rec.Body == "" && rec.Subject == "" {
		return "", domain.Permanentf("record %s has no content", recordID)
	}
	if rec.Subject == "" {
		return rec.Body, nil
	}
	return rec.Subject + "\n\n" + rec.Body, nil
}

// SourceID identifies the backing store for logging.
func (a *Adapter) SourceID() string {
	return "mailstore"
}
