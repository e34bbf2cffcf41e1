// Package shelfapi is the HTTP client for the chatshelf server, used by the
// mount tool and other out-of-process consumers.
package shelfapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type FiledChat struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	AddedAt int64  `json:"addedAt"`
}

type Project struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Order       int         `json:"order"`
	CreatedAt   int64       `json:"createdAt"`
	ContextID   string      `json:"contextId,omitempty"`
	ContextName string      `json:"contextName,omitempty"`
	Expanded    bool        `json:"isExpanded"`
	Chats       []FiledChat `json:"chats"`
}

type ProjectList struct {
	Namespace string    `json:"namespace"`
	Projects  []Project `json:"projects"`
}

type Association struct {
	ProjectID string `json:"projectId"`
	Title     string `json:"title,omitempty"`
	AddedAt   int64  `json:"addedAt,omitempty"`
}

type AssociationList struct {
	Namespace    string                 `json:"namespace"`
	Associations map[string]Association `json:"associations"`
}

type Health struct {
	Status    string `json:"status"`
	Namespace string `json:"namespace"`
}

// RemoteClient is what the mount tool needs from the server.
type RemoteClient interface {
	Health(ctx context.Context) (Health, error)
	ListProjects(ctx context.Context, namespace string) (ProjectList, error)
	ListAssociations(ctx context.Context, namespace, projectID string) (AssociationList, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *HTTPClient) ListProjects(ctx context.Context, namespace string) (ProjectList, error) {
	var out ProjectList
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/namespaces/%s/projects", url.PathEscape(namespace)), nil, &out)
	return out, err
}

func (c *HTTPClient) ListAssociations(ctx context.Context, namespace, projectID string) (AssociationList, error) {
	q := url.Values{}
	if strings.TrimSpace(projectID) != "" {
		q.Set("projectId", strings.TrimSpace(projectID))
	}
	requestPath := fmt.Sprintf("/v1/namespaces/%s/associations", url.PathEscape(namespace))
	if encoded := q.Encode(); encoded != "" {
		requestPath += "?" + encoded
	}
	var out AssociationList
	err := c.doJSON(ctx, http.MethodGet, requestPath, nil, &out)
	return out, err
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func correlationID() string {
	return fmt.Sprintf("shelf_%d", time.Now().UnixNano())
}
