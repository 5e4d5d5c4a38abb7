package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rwalker-dev/foreman/internal/manager"
	"github.com/rwalker-dev/foreman/pkg/models"
)

// HTTPBackend talks to a running foreman server.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates a Backend against the server at baseURL.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// PendingApprovals fetches the aggregate pending list.
func (b *HTTPBackend) PendingApprovals() ([]manager.PendingApproval, error) {
	resp, err := b.client.Get(b.baseURL + "/approvals")
	if err != nil {
		return nil, fmt.Errorf("fetch approvals: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch approvals: status %d", resp.StatusCode)
	}

	var out struct {
		Approvals []manager.PendingApproval `json:"approvals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode approvals: %w", err)
	}
	return out.Approvals, nil
}

// Resolve delivers a decision for one pending request.
func (b *HTTPBackend) Resolve(sessionID, requestID string, decision models.Decision) error {
	body, err := json.Marshal(map[string]models.Decision{"decision": decision})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/sessions/%s/approvals/%s", b.baseURL, sessionID, requestID)
	resp, err := b.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("resolve approval: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resolve approval: status %d", resp.StatusCode)
	}
	return nil
}
