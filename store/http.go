package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dastron/video-ware-sub000/core"
)

// HTTPStore talks to a remote record service over its REST API.
// The service exposes collections at /api/collections/{name}/records and
// reports unique-index rejections with a per-field "validation_not_unique"
// code in the error body.
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
	logger  core.Logger
}

// HTTPStoreOptions configures an HTTPStore.
type HTTPStoreOptions struct {
	// BaseURL of the record service, e.g. "http://127.0.0.1:8090"
	BaseURL string

	// Token is sent as the Authorization header when set
	Token string

	// Timeout for individual requests. Default: 30s.
	Timeout time.Duration

	// Logger is optional
	Logger core.Logger
}

// NewHTTPStore creates a client for the remote record service.
func NewHTTPStore(opts HTTPStoreOptions) *HTTPStore {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = &core.NoOpLogger{}
	}
	return &HTTPStore{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// apiError mirrors the record service's error envelope.
type apiError struct {
	Code    int                   `json:"code"`
	Message string                `json:"message"`
	Data    map[string]fieldError `json:"data"`
}

type fieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *HTTPStore) Create(ctx context.Context, collection string, payload Record) (Record, error) {
	var out Record
	err := s.do(ctx, http.MethodPost, s.recordsURL(collection), payload, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HTTPStore) Update(ctx context.Context, collection, id string, patch Record) (Record, error) {
	var out Record
	err := s.do(ctx, http.MethodPatch, s.recordsURL(collection)+"/"+url.PathEscape(id), patch, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HTTPStore) GetByID(ctx context.Context, collection, id string) (Record, error) {
	var out Record
	err := s.do(ctx, http.MethodGet, s.recordsURL(collection)+"/"+url.PathEscape(id), nil, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *HTTPStore) List(ctx context.Context, collection string, page, perPage int, filter, sort string) (*ListResult, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("perPage", strconv.Itoa(perPage))
	}
	if filter != "" {
		q.Set("filter", filter)
	}
	if sort != "" {
		q.Set("sort", sort)
	}

	var out struct {
		Items      []Record `json:"items"`
		TotalItems int      `json:"totalItems"`
	}
	err := s.do(ctx, http.MethodGet, s.recordsURL(collection)+"?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	return &ListResult{Items: out.Items, Total: out.TotalItems}, nil
}

// CreateFile uploads a local file as a multipart record create.
func (s *HTTPStore) CreateFile(ctx context.Context, collection, localPath string, meta Record) (Record, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", core.ErrInvalidInput, localPath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return nil, fmt.Errorf("create multipart: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy file into multipart: %w", err)
	}
	for k, v := range meta {
		_ = writer.WriteField(k, fmt.Sprintf("%v", v))
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.recordsURL(collection), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.token != "" {
		req.Header.Set("Authorization", s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	return s.decodeRecord(collection, resp)
}

func (s *HTTPStore) recordsURL(collection string) string {
	return s.baseURL + "/api/collections/" + url.PathEscape(collection) + "/records"
}

func (s *HTTPStore) do(ctx context.Context, method, rawURL string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return s.decodeError(rawURL, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (s *HTTPStore) decodeRecord(collection string, resp *http.Response) (Record, error) {
	if resp.StatusCode >= 400 {
		return nil, s.decodeError(collection, resp)
	}
	var rec Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return rec, nil
}

// decodeError maps HTTP failures into the core taxonomy: unique violations
// become *UniqueViolationError, 404 becomes core.ErrNotFound, other 4xx are
// terminal rejections, and 5xx stay retryable.
func (s *HTTPStore) decodeError(target string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiErr apiError
	if json.Unmarshal(data, &apiErr) == nil {
		for field, fe := range apiErr.Data {
			if fe.Code == "validation_not_unique" {
				return &UniqueViolationError{Collection: target, Field: field}
			}
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", core.ErrNotFound, target)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", core.ErrPermissionDenied, target)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %d", core.ErrUnavailable, target, resp.StatusCode)
	default:
		return fmt.Errorf("%w: %s returned %d: %s", core.ErrRejected, target, resp.StatusCode, apiErr.Message)
	}
}
