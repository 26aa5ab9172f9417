package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lexline/internal/domain"
)

// HTTPBackend talks to a remote drafting service. Generation responses
// are an NDJSON stream of progress updates terminated by a line carrying
// the final text.
type HTTPBackend struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type generateLine struct {
	Progress int    `json:"progress"`
	Log      string `json:"log,omitempty"`
	Done     bool   `json:"done,omitempty"`
	Text     string `json:"text,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (b HTTPBackend) client() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return &http.Client{Timeout: b.Timeout}
}

func (b HTTPBackend) url(p string) string {
	return strings.TrimRight(b.BaseURL, "/") + "/" + strings.TrimLeft(p, "/")
}

func (b HTTPBackend) Suggest(ctx context.Context, req SuggestRequest) ([]domain.Suggestion, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url("v1/suggestions"), &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := b.client().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("suggestion backend: status=%d body=%s", resp.StatusCode, string(body))
	}
	var out struct {
		Suggestions []domain.Suggestion `json:"suggestions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

func (b HTTPBackend) Generate(ctx context.Context, payload CasePayload, emit func(Update)) (string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url("v1/generations"), &buf)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	// Streaming call: the per-request Timeout client would kill long
	// drafts, so rely on ctx for cancellation here.
	resp, err := (&http.Client{}).Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("generation backend: status=%d body=%s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var l generateLine
		if err := json.Unmarshal(line, &l); err != nil {
			return "", fmt.Errorf("generation stream: %w", err)
		}
		if l.Error != "" {
			return "", fmt.Errorf("generation backend: %s", l.Error)
		}
		if l.Done {
			return l.Text, nil
		}
		emit(Update{Progress: l.Progress, Log: l.Log})
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("generation stream ended without final text")
}
