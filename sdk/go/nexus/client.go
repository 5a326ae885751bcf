// Package nexus is a Go client for the nexusd operator API.
package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the nexusd API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer
	token      string
}

// Attempt is one run of the hiring flow.
type Attempt struct {
	ID           string    `json:"id"`
	Agent        string    `json:"agent"`
	Worker       string    `json:"worker,omitempty"`
	Wage         *big.Int  `json:"wage,omitempty"`
	Phase        string    `json:"phase"`
	Code         string    `json:"code,omitempty"`
	Error        string    `json:"error,omitempty"`
	UserRejected bool      `json:"user_rejected,omitempty"`
	ApproveTx    string    `json:"approve_tx,omitempty"`
	DepositTx    string    `json:"deposit_tx,omitempty"`
	TaskID       *big.Int  `json:"task_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// State is the orchestrator snapshot.
type State struct {
	Phase     string   `json:"phase"`
	Selection string   `json:"selection,omitempty"`
	Active    *Attempt `json:"active,omitempty"`
	Last      *Attempt `json:"last,omitempty"`
}

// Entry is one line of the notification feed.
type Entry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	AttemptID string    `json:"attempt_id,omitempty"`
	Code      string    `json:"code,omitempty"`
	TaskID    *big.Int  `json:"task_id,omitempty"`
	Output    string    `json:"output,omitempty"`
	Link      string    `json:"link,omitempty"`
}

// Completion is a TaskCompleted event observed by the daemon.
type Completion struct {
	TaskID      *big.Int  `json:"task_id"`
	Output      string    `json:"output"`
	Link        string    `json:"link,omitempty"`
	BlockNumber uint64    `json:"block_number"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Removed     bool      `json:"removed,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// AttemptRecord is a journaled terminal attempt.
type AttemptRecord struct {
	ID         string `json:"id"`
	Agent      string `json:"agent"`
	Worker     string `json:"worker"`
	Wage       string `json:"wage"`
	Phase      string `json:"phase"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
	ApproveTx  string `json:"approve_tx,omitempty"`
	DepositTx  string `json:"deposit_tx,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
}

// Agent is a hireable identity.
type Agent struct {
	ID        string `json:"id"`
	Worker    string `json:"worker"`
	Wage      string `json:"wage"`
	Color     string `json:"color,omitempty"`
	Role      string `json:"role,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

// Allowance is the token amount the escrow may currently pull from owner.
type Allowance struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
	Symbol  string `json:"symbol"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("nexus api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("nexus api error (%d): %s", e.StatusCode, e.Message)
}

// IsBusy reports whether err is the rejection of a hire while another one
// is in flight.
func IsBusy(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// NewClient instantiates a client for the nexusd API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url scheme: %q", parsed.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, dialer: websocket.DefaultDialer}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.token = strings.TrimSpace(token)
}

func (c *Client) authHeader() http.Header {
	if c.token == "" {
		return nil
	}
	return http.Header{"Authorization": {"Bearer " + c.token}}
}

// Select records the agent to hire on the next trigger.
func (c *Client) Select(ctx context.Context, agentID string) (string, error) {
	var out struct {
		AgentID string `json:"agent_id"`
	}
	payload := map[string]string{"agent_id": agentID}
	if err := c.send(ctx, http.MethodPut, "/api/v1/selection", payload, &out); err != nil {
		return "", err
	}
	return out.AgentID, nil
}

// ClearSelection removes the current choice.
func (c *Client) ClearSelection(ctx context.Context) error {
	return c.send(ctx, http.MethodDelete, "/api/v1/selection", nil, nil)
}

// Hire triggers a hire for the current selection. The returned attempt is
// the claimed, not yet terminal, snapshot.
func (c *Client) Hire(ctx context.Context) (Attempt, error) {
	var attempt Attempt
	if err := c.send(ctx, http.MethodPost, "/api/v1/hire", nil, &attempt); err != nil {
		return Attempt{}, err
	}
	return attempt, nil
}

// State fetches the orchestrator snapshot.
func (c *Client) State(ctx context.Context) (State, error) {
	var state State
	err := c.get(ctx, "/api/v1/state", nil, &state)
	return state, err
}

// Logs returns feed entries newest first. A non-positive limit returns all.
func (c *Client) Logs(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := c.get(ctx, "/api/v1/logs", limitQuery(limit), &entries)
	return entries, err
}

// Completions returns observed completion events newest first.
func (c *Client) Completions(ctx context.Context, limit int) ([]Completion, error) {
	var out []Completion
	err := c.get(ctx, "/api/v1/completions", limitQuery(limit), &out)
	return out, err
}

// Attempts returns journaled attempts newest first.
func (c *Client) Attempts(ctx context.Context, limit int) ([]AttemptRecord, error) {
	var out []AttemptRecord
	err := c.get(ctx, "/api/v1/attempts", limitQuery(limit), &out)
	return out, err
}

// Agents lists the hireable identities.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	err := c.get(ctx, "/api/v1/agents", nil, &out)
	return out, err
}

// Allowance reads the escrow allowance of owner, or of the daemon wallet
// when owner is empty.
func (c *Client) Allowance(ctx context.Context, owner string) (Allowance, error) {
	var query url.Values
	if owner != "" {
		query = url.Values{"owner": {owner}}
	}
	var out Allowance
	err := c.get(ctx, "/api/v1/allowance", query, &out)
	return out, err
}

// Stream delivers live feed entries to fn until ctx is cancelled, the
// server closes the stream or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(Entry) error) error {
	u := c.endpoint("/api/v1/stream", nil)
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), c.authHeader())
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var entry Entry
		if err := conn.ReadJSON(&entry); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, endpoint, nil, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) endpoint(endpoint string, query url.Values) *url.URL {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(endpoint, query).String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
