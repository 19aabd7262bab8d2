package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 5 * time.Second
	maxResponseBytes   = 1 << 20
)

// DefaultHTTPClient returns the client used when a constructor is handed none.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// DoJSON sends body (if any) as JSON and decodes the provider's answer.
//
// Any answer carrying a JSON body is returned without error regardless of its
// status, so callers see the provider's own decline payload. A 401 yields ErrAuth,
// transport failures and non-2xx answers without a JSON body yield ErrNetwork.
func DoJSON(ctx context.Context, client *http.Client, method, url string, body any, header http.Header) (ProviderResponse, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return ProviderResponse{}, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("%w: failed to create http request: %v", ErrConfiguration, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if client == nil {
		client = DefaultHTTPClient()
	}
	resp, err := client.Do(req)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("%w: failed to read response body: %w", ErrNetwork, err)
	}

	out := ProviderResponse{Raw: raw, HTTPStatus: resp.StatusCode}
	if resp.StatusCode == http.StatusUnauthorized {
		return out, newStatusError(ErrAuth, resp.StatusCode, raw)
	}

	isJSON := decodeObject(raw, &out)
	if !isJSON && !out.OK() {
		return out, newStatusError(ErrNetwork, resp.StatusCode, raw)
	}
	return out, nil
}

// decodeObject fills p.Body when raw is a JSON object and reports whether raw was valid JSON at all.
func decodeObject(raw []byte, p *ProviderResponse) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return false
	}
	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err == nil {
			p.Body = m
		}
	}
	return true
}

// DecodeList splits a listing answer into one ProviderResponse per transaction.
// Providers answer either with a bare array or with an object wrapping it under "data".
func DecodeList(resp ProviderResponse) ([]ProviderResponse, error) {
	trimmed := bytes.TrimSpace(resp.Raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to decode transaction list: %w", err)
		}
	case '{':
		var wrapped struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode transaction list: %w", err)
		}
		items = wrapped.Data
	default:
		return nil, fmt.Errorf("unexpected transaction list payload: %s", strings.TrimSpace(string(trimmed[:min(len(trimmed), 64)])))
	}

	out := make([]ProviderResponse, 0, len(items))
	for _, item := range items {
		entry := ProviderResponse{Raw: item, HTTPStatus: resp.HTTPStatus}
		decodeObject(item, &entry)
		out = append(out, entry)
	}
	return out, nil
}
