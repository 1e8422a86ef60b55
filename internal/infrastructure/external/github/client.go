package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/remloop/internal/domain/model/pullreq"
	"github.com/YoshitsuguKoike/remloop/internal/domain/repository"
)

const defaultBaseURL = "https://api.github.com"

// APIError captures non-2xx responses from GitHub.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error: status=%d message=%s", e.StatusCode, e.Message)
}

// Client reads and conditionally writes pull request labels. It
// implements repository.PullRequestRepository: reads capture the response
// ETag and writes carry it back as If-Match, so a label set changed by
// another writer surfaces as repository.ErrConcurrentModification instead
// of being clobbered.
type Client struct {
	BaseURL    string
	Token      string
	Owner      string
	Repo       string
	HTTPClient *http.Client
	UserAgent  string
}

// NewClient constructs a GitHub label client for one repository.
func NewClient(token, owner, repo string) *Client {
	return &Client{
		BaseURL:    defaultBaseURL,
		Token:      token,
		Owner:      owner,
		Repo:       repo,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		UserAgent:  "remloop",
	}
}

type labelPayload struct {
	Name string `json:"name"`
}

type setLabelsRequest struct {
	Labels []string `json:"labels"`
}

// Get returns the pull request's current labels with the ETag they were
// read under.
func (c *Client) Get(ctx context.Context, number int) (*pullreq.PullRequest, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", c.Owner, c.Repo, number)

	var payload []labelPayload
	etag, err := c.doJSON(ctx, http.MethodGet, path, "", nil, &payload)
	if err != nil {
		return nil, err
	}
	if etag == "" {
		// Without the token a later write would be last-write-wins
		return nil, repository.NewRetryableError(
			fmt.Errorf("label read for #%d returned no ETag", number))
	}

	labels := make([]string, 0, len(payload))
	for _, l := range payload {
		labels = append(labels, l.Name)
	}
	sort.Strings(labels)
	return &pullreq.PullRequest{Number: number, Labels: labels, ETag: etag}, nil
}

// UpdateLabels replaces the full label set, conditioned on etag.
// An empty etag is refused: it would send an unconditional PUT.
func (c *Client) UpdateLabels(ctx context.Context, number int, labels []string, etag string) error {
	if etag == "" {
		return fmt.Errorf("refusing unconditional label write for #%d", number)
	}
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", c.Owner, c.Repo, number)
	_, err := c.doJSON(ctx, http.MethodPut, path, etag, setLabelsRequest{Labels: labels}, nil)
	return err
}

func (c *Client) doJSON(ctx context.Context, method, path, ifMatch string, payload any, out any) (string, error) {
	if c == nil {
		return "", errors.New("github client is nil")
	}
	if c.Token == "" {
		return "", errors.New("github token missing")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(data)
	}

	base := strings.TrimRight(c.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("User-Agent", c.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ifMatch != "" {
		req.Header.Set("If-Match", ifMatch)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", repository.NewRetryableError(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusPreconditionFailed,
		resp.StatusCode == http.StatusConflict:
		return "", repository.ErrConcurrentModification
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return "", repository.NewRetryableError(
			&APIError{StatusCode: resp.StatusCode, Message: string(respBody)})
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return "", err
		}
	}
	return resp.Header.Get("ETag"), nil
}

var _ repository.PullRequestRepository = (*Client)(nil)
