// Package myinvois implements the authority API client and the access-token
// lifecycle for the e-Invoice pipeline.
package myinvois

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/merlion-labs/einvois/internal/pipeline"
)

// TokenSource supplies a valid bearer token for outbound calls. All authority
// calls obtain their token through this interface; nothing caches its own.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client wraps interactions with the authority document API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient constructs a new client. timeout bounds a single transport round
// trip; it is distinct from the business-level poll budget.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Submit transmits one or more documents to the submission endpoint.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1.0/documentsubmissions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetSubmission queries per-document validation status for a submission UID.
func (c *Client) GetSubmission(ctx context.Context, submissionUID string) (*SubmissionStatus, error) {
	var resp SubmissionStatus
	path := "/api/v1.0/documentsubmissions/" + url.PathEscape(submissionUID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel asks the authority to cancel a validated document.
func (c *Client) Cancel(ctx context.Context, uuid, reason string) (*CancelResponse, error) {
	var resp CancelResponse
	path := "/api/v1.0/documents/state/" + url.PathEscape(uuid) + "/state"
	body := CancelRequest{Status: "cancelled", Reason: reason}
	if err := c.do(ctx, http.MethodPut, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRecentDocuments pulls one page of inbound documents received since the
// watermark. The watermark is passed through verbatim; the authority defines
// its format.
func (c *Client) ListRecentDocuments(ctx context.Context, since string, pageNo, pageSize int) (*RecentDocumentsPage, error) {
	q := url.Values{}
	if since != "" {
		q.Set("submissionDateFrom", since)
	}
	q.Set("pageNo", strconv.Itoa(pageNo))
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("InvoiceDirection", "Received")

	var resp RecentDocumentsPage
	if err := c.do(ctx, http.MethodGet, "/api/v1.0/documents/recent?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes a single authenticated request and classifies the outcome into
// the pipeline error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("myinvois: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("myinvois: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &pipeline.TransientError{Op: method + " " + path, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 500:
		return &pipeline.TransientError{
			Op:  method + " " + path,
			Err: fmt.Errorf("authority returned status %d", resp.StatusCode),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &pipeline.AuthError{Detail: "authority returned status " + strconv.Itoa(resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		return &pipeline.TransientError{
			Op:  method + " " + path,
			Err: fmt.Errorf("rate limited, retry after %s", retryAfter),
		}
	case resp.StatusCode >= 400:
		return decodeRejection(resp.Body, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("myinvois: decode response: %w", err)
		}
	}
	return nil
}

// decodeRejection turns a 4xx body into an AuthorityRejection, preferring the
// innermost detail since the authority nests the useful message.
func decodeRejection(r io.Reader, status int) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return &pipeline.AuthorityRejection{Code: strconv.Itoa(status), Message: "unreadable error body"}
	}
	var envelope struct {
		Error ErrorDetail `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == "" {
		return &pipeline.AuthorityRejection{Code: strconv.Itoa(status), Message: string(raw)}
	}
	detail := flattenDetail(envelope.Error)
	return &pipeline.AuthorityRejection{
		Code:    detail.Code,
		Path:    detail.PropertyPath,
		Message: detail.Message,
	}
}

func flattenDetail(d ErrorDetail) ErrorDetail {
	if len(d.Details) == 0 {
		return d
	}
	return flattenDetail(d.Details[0])
}

// ErrNoToken is returned by token sources that have nothing cached and cannot
// refresh.
var ErrNoToken = errors.New("myinvois: no usable token")
