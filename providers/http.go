package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dastron/video-ware-sub000/core"
)

// HTTPClientOptions configures the JSON-over-HTTP provider clients.
type HTTPClientOptions struct {
	// BaseURL of the provider gateway
	BaseURL string

	// Token is sent as the Authorization header when set
	Token string

	// Timeout for individual requests. Default: 5m; annotation calls are
	// long-running.
	Timeout time.Duration

	// Logger is optional
	Logger core.Logger
}

// HTTPVideoClient implements VideoIntelligence against a JSON gateway.
type HTTPVideoClient struct {
	opts   HTTPClientOptions
	client *http.Client
}

// NewHTTPVideoClient creates a video-intelligence client.
func NewHTTPVideoClient(opts HTTPClientOptions) *HTTPVideoClient {
	return &HTTPVideoClient{opts: opts, client: newHTTPClient(&opts)}
}

// Annotate requests the selected features for one stored object.
func (c *HTTPVideoClient) Annotate(ctx context.Context, objectURI string, features []Feature) (*AnnotateResponse, error) {
	req := map[string]interface{}{
		"inputUri": objectURI,
		"features": features,
	}
	var out AnnotateResponse
	if err := doJSON(ctx, c.client, &c.opts, "/v1/videos:annotate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HTTPSpeechClient implements SpeechToText against a JSON gateway.
type HTTPSpeechClient struct {
	opts   HTTPClientOptions
	client *http.Client
}

// NewHTTPSpeechClient creates a speech-to-text client.
func NewHTTPSpeechClient(opts HTTPClientOptions) *HTTPSpeechClient {
	return &HTTPSpeechClient{opts: opts, client: newHTTPClient(&opts)}
}

// Transcribe requests a transcription of one stored object.
func (c *HTTPSpeechClient) Transcribe(ctx context.Context, objectURI string, cfg SpeechConfig) (*TranscribeResponse, error) {
	req := map[string]interface{}{
		"inputUri": objectURI,
		"config":   cfg,
	}
	var out TranscribeResponse
	if err := doJSON(ctx, c.client, &c.opts, "/v1/speech:transcribe", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func newHTTPClient(opts *HTTPClientOptions) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &http.Client{Timeout: timeout}
}

func doJSON(ctx context.Context, client *http.Client, opts *HTTPClientOptions, path string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if opts.Token != "" {
		req.Header.Set("Authorization", opts.Token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeProviderError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

// decodeProviderError maps HTTP failures into the core taxonomy: auth
// failures and other 4xx are terminal, 5xx stay retryable.
func decodeProviderError(target string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", core.ErrNotFound, target)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", core.ErrPermissionDenied, target)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %d", core.ErrUnavailable, target, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", core.ErrRejected, target, resp.StatusCode, bytes.TrimSpace(body))
	}
}
