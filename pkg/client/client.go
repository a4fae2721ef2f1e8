// Package client talks to a strongbox server: the chunked upload protocol,
// token exchange and the version handshake.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lgulliver/strongbox/internal/apperr"
	"github.com/lgulliver/strongbox/pkg/types"
	"github.com/lgulliver/strongbox/pkg/version"
	"github.com/rs/zerolog/log"
)

// ErrUnauthorized is returned when the server rejects the credentials
var ErrUnauthorized = errors.New("unauthorized")

// ErrIncompatibleServer is returned when the server version is outside the
// supported range
var ErrIncompatibleServer = errors.New("incompatible server version")

// tokenRefreshMargin renews a token this long before it expires
const tokenRefreshMargin = time.Minute

// Client is an HTTP client for the strongbox API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	useToken   bool

	mu    sync.Mutex
	token *types.AuthToken
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokenAuth exchanges the shared secret for a bearer token once and
// sends the token instead of the secret afterwards
func WithTokenAuth() Option {
	return func(c *Client) {
		c.useToken = true
	}
}

// New creates a client for the server at baseURL
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health fetches the unauthenticated health document
func (c *Client) Health(ctx context.Context) (*types.HealthResponse, error) {
	var health types.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// CheckVersion verifies that the server speaks a supported API version
func (c *Client) CheckVersion(ctx context.Context) error {
	health, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check server version: %w", err)
	}
	ok, err := version.Compatible(health.Version, version.ClientConstraint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncompatibleServer, err)
	}
	if !ok {
		return fmt.Errorf("%w: server %s, client supports %s", ErrIncompatibleServer, health.Version, version.ClientConstraint)
	}
	if version.Compare(health.Version, version.Version) > 0 {
		log.Debug().Str("server", health.Version).Str("client", version.Version).Msg("server is newer than client")
	}
	return nil
}

// Token exchanges the shared secret for a bearer token
func (c *Client) Token(ctx context.Context) (*types.AuthToken, error) {
	var token types.AuthToken
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/token", nil, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// InitUpload opens a chunked upload session and returns its id
func (c *Client) InitUpload(ctx context.Context, req types.InitUploadRequest) (string, error) {
	var resp types.InitUploadResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload/init", req, &resp); err != nil {
		return "", err
	}
	return resp.UploadID, nil
}

// UploadChunk sends one chunk as multipart form data
func (c *Client) UploadChunk(ctx context.Context, uploadID string, index int, payload io.Reader) (*types.ChunkResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chunkNumber", strconv.Itoa(index)); err != nil {
		return nil, err
	}
	part, err := writer.CreateFormFile("chunk", "chunk_"+strconv.Itoa(index))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, payload); err != nil {
		return nil, fmt.Errorf("failed to read chunk %d: %w", index, err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var resp types.ChunkResponse
	if err := c.do(ctx, http.MethodPost, "/api/upload/chunk/"+url.PathEscape(uploadID), writer.FormDataContentType(), &body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetPause pauses or resumes a session and returns the new state
func (c *Client) SetPause(ctx context.Context, uploadID string, paused bool) (string, error) {
	var resp types.StatusOnlyResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload/pause/"+url.PathEscape(uploadID), paused, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Stop abandons a session on the server
func (c *Client) Stop(ctx context.Context, uploadID string) error {
	var resp types.StatusOnlyResponse
	return c.doJSON(ctx, http.MethodPost, "/api/upload/stop/"+url.PathEscape(uploadID), nil, &resp)
}

// Status fetches the server's view of a session
func (c *Client) Status(ctx context.Context, uploadID string) (*types.StatusResponse, error) {
	var resp types.StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/upload/status/"+url.PathEscape(uploadID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Complete asks the server to assemble a session whose chunks are all present
func (c *Client) Complete(ctx context.Context, uploadID string) (*types.ChunkResponse, error) {
	var resp types.ChunkResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/upload/complete/"+url.PathEscape(uploadID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, body, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if err := c.authorize(ctx, req, path); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request, path string) error {
	if !strings.HasPrefix(path, "/api/") {
		return nil
	}
	if !c.useToken || path == "/api/auth/token" {
		req.Header.Set("X-Api-Key", c.apiKey)
		return nil
	}

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	if token == nil || time.Until(token.ExpiresAt) < tokenRefreshMargin {
		fresh, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain token: %w", err)
		}
		c.mu.Lock()
		c.token = fresh
		c.mu.Unlock()
		token = fresh
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	return nil
}

// decodeError rebuilds the server's error kind so callers can use errors.Is
func decodeError(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	var body types.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return apperr.IO("request", fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	if body.Status == types.StatusPaused {
		return apperr.Paused("%s", body.Error)
	}
	return apperr.FromCode(body.Code, body.Error)
}
