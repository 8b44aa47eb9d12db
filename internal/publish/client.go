// Package publish is a client for the Graph API reel container lifecycle:
// create a container from a video URL, poll its status, publish it.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jo-hoe/reelcaster/internal/config"
)

const (
	// Endpoints, relative to {base}/{version}
	endpointMedia        = "media"
	endpointMediaPublish = "media_publish"

	// Parameters
	paramAccessToken = "access_token"
	paramMediaType   = "media_type"
	paramVideoURL    = "video_url"
	paramCaption     = "caption"
	paramCreationID  = "creation_id"
	paramFields      = "fields"

	mediaTypeReels    = "REELS"
	fieldStatusCode   = "status_code"
	headerContentType = "Content-Type"
	contentTypeForm   = "application/x-www-form-urlencoded"

	defaultTimeout    = 60 * time.Second
	errorSnippetLimit = 400
	maxResponseBytes  = 1 << 20
)

// Client talks to one page on the Graph API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	version    string
	token      string
	pageID     string
}

// New creates a client from publish settings.
func New(cfg config.PublishConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		version:    strings.Trim(cfg.APIVersion, "/"),
		token:      cfg.Token,
		pageID:     cfg.PageID,
	}
}

// CreateContainer asks the API to fetch videoURL into a new reel container.
func (c *Client) CreateContainer(ctx context.Context, videoURL, caption string) (string, error) {
	form := url.Values{}
	form.Set(paramMediaType, mediaTypeReels)
	form.Set(paramVideoURL, videoURL)
	form.Set(paramCaption, caption)

	var out idResponse
	if err := c.post(ctx, "create container", endpointMedia, form, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", ErrEmptyContainerID
	}
	return out.ID, nil
}

// CheckStatus returns the processing status of a container.
func (c *Client) CheckStatus(ctx context.Context, containerID string) (Status, error) {
	if containerID == "" {
		return Status{}, ErrEmptyContainerID
	}
	u, err := url.JoinPath(c.baseURL, c.version, url.PathEscape(containerID))
	if err != nil {
		return Status{}, fmt.Errorf("join url: %w", err)
	}
	q := url.Values{}
	q.Set(paramFields, fieldStatusCode)
	q.Set(paramAccessToken, c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return Status{}, fmt.Errorf("new request: %w", err)
	}
	var out statusResponse
	if err := c.do(req, "check status", &out); err != nil {
		return Status{}, err
	}
	return Status{Code: ParseStatus(out.StatusCode), Raw: out.StatusCode}, nil
}

// Publish makes a finished container visible on the page and returns the media id.
func (c *Client) Publish(ctx context.Context, containerID string) (string, error) {
	if containerID == "" {
		return "", ErrEmptyContainerID
	}
	form := url.Values{}
	form.Set(paramCreationID, containerID)

	var out idResponse
	if err := c.post(ctx, "publish", endpointMediaPublish, form, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", fmt.Errorf("graph publish: %w", ErrEmptyContainerID)
	}
	return out.ID, nil
}

func (c *Client) post(ctx context.Context, op, endpoint string, form url.Values, out any) error {
	u, err := url.JoinPath(c.baseURL, c.version, url.PathEscape(c.pageID), endpoint)
	if err != nil {
		return fmt.Errorf("join url: %w", err)
	}
	form.Set(paramAccessToken, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerContentType, contentTypeForm)
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("graph %s: %w", op, redact(err, c.token))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newAPIError(op, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("graph %s: parse response: %w", op, err)
	}
	return nil
}

func newAPIError(op string, status int, body []byte) *APIError {
	e := &APIError{Op: op, StatusCode: status}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
		e.Retryable = env.Error.IsTransient
		return e
	}
	e.Message = truncate(string(body), errorSnippetLimit)
	return e
}

// redact strips the access token from transport errors, which embed the request URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "REDACTED"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type idResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	ID         string `json:"id"`
	StatusCode string `json:"status_code"`
}

type errorEnvelope struct {
	Error struct {
		Message     string `json:"message"`
		Type        string `json:"type"`
		Code        int    `json:"code"`
		IsTransient bool   `json:"is_transient"`
	} `json:"error"`
}
