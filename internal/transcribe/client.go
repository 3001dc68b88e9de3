// Package transcribe sends finished audio segments to Deepgram's
// prerecorded API.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sjawhar/meetscribe/internal/failure"
	"github.com/sjawhar/meetscribe/internal/segment"
)

const (
	DefaultBaseURL = "https://api.deepgram.com"
	transcriptPath = "results.channels.0.alternatives.0.transcript"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Transcribe posts seg and returns the first alternative's transcript, or ""
// when the response has no such path. It never retries.
func (c *Client) Transcribe(ctx context.Context, seg segment.Segment, apiKey string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", failure.New(failure.MissingCredential, "deepgram api key")
	}

	q := url.Values{}
	q.Set("model", "nova-2")
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	endpoint := c.baseURL + "/v1/listen?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(seg.Data))
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", seg.MimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", failure.Wrap(failure.NetworkError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", failure.New(failure.RemoteError, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failure.Wrap(failure.NetworkError, fmt.Errorf("read transcription response: %w", err))
	}

	return gjson.GetBytes(body, transcriptPath).String(), nil
}
