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
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrUnauthorized is returned when the CMS rejects the editor's credentials
var ErrUnauthorized = errors.New("cms rejected credentials")

// CMSClient handles communication with the CMS REST API
type CMSClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *zap.Logger
}

// CMSMedia represents a media record created by the CMS
type CMSMedia struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
	Type     string `json:"type"`
}

type contentRequest struct {
	Content string `json:"content"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// NewCMSClient creates a new CMS client
func NewCMSClient(baseURL, serviceKey string, timeout time.Duration, logger *zap.Logger) *CMSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CMSClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// BaseURL returns the CMS root the client talks to
func (c *CMSClient) BaseURL() string {
	return c.baseURL
}

// UploadMedia sends body as a multipart upload to the CMS media library
func (c *CMSClient) UploadMedia(ctx context.Context, body io.Reader, filename, contentType, name string) (*CMSMedia, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	part, err := writer.CreatePart(fileHeader(filename, contentType))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}

	if name != "" {
		if err := writer.WriteField("name", name); err != nil {
			return nil, fmt.Errorf("failed to write name field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/media", buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("failed to send request to CMS", zap.Error(err))
		return nil, fmt.Errorf("failed to send request to CMS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.statusError(resp)
	}

	var media CMSMedia
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		c.logger.Error("failed to decode response", zap.Error(err))
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &media, nil
}

// DeleteMedia deletes a media record
func (c *CMSClient) DeleteMedia(ctx context.Context, mediaID string) error {
	endpoint := fmt.Sprintf("%s/api/media/%s", c.baseURL, url.PathEscape(mediaID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("failed to send delete request to CMS", zap.Error(err))
		return fmt.Errorf("failed to send delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	return nil
}

// SaveContent replaces the content of a project
func (c *CMSClient) SaveContent(ctx context.Context, projectID, content string) error {
	payload, err := json.Marshal(contentRequest{Content: content})
	if err != nil {
		return fmt.Errorf("failed to encode content: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/projects/%s/content", c.baseURL, url.PathEscape(projectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("failed to send content to CMS", zap.String("projectId", projectID), zap.Error(err))
		return fmt.Errorf("failed to send content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	return nil
}

// Ping checks that the CMS answers at all. Any HTTP response counts as reachable.
func (c *CMSClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cms unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

type tokenKey struct{}

// WithToken attaches the editor's bearer token to ctx; requests made with
// that context forward it instead of the service key.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func (c *CMSClient) authorize(ctx context.Context, req *http.Request) {
	if token, ok := ctx.Value(tokenKey{}).(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	if c.serviceKey != "" {
		req.Header.Set("X-Service-Key", c.serviceKey)
	}
}

func (c *CMSClient) statusError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body)

	c.logger.Error("CMS returned error",
		zap.Int("status", resp.StatusCode),
		zap.String("error", body.Error))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status code %d", ErrUnauthorized, resp.StatusCode)
	}
	if body.Error != "" {
		return fmt.Errorf("cms returned status code %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("cms returned status code %d", resp.StatusCode)
}

func fileHeader(filename, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)},
		"Content-Type":        {contentType},
	}
}
