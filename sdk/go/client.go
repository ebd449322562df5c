package shiftbotsdk

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

// Client is a minimal client for the shiftbot admin API.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type Request struct {
	ID          int64  `json:"id"`
	RequesterID string `json:"requester_id"`
	Text        string `json:"text"`
	Status      string `json:"status"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type Task struct {
	ID         int64  `json:"id"`
	CreatorID  string `json:"creator_id"`
	AssigneeID string `json:"assignee_id"`
	Text       string `json:"text"`
	Status     string `json:"status"`
	Deadline   string `json:"deadline,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type Reminder struct {
	ID      int64  `json:"id"`
	OwnerID string `json:"owner_id"`
	Text    string `json:"text"`
	FireAt  string `json:"fire_at"`
	Sent    bool   `json:"sent"`
}

// Stats holds counts by status.
type Stats struct {
	Requests         map[string]int `json:"requests"`
	Tasks            map[string]int `json:"tasks"`
	Approvals        map[string]int `json:"approvals"`
	PendingReminders int            `json:"pending_reminders"`
	SentReminders    int            `json:"sent_reminders"`
}

type Workload struct {
	MemberID     string `json:"member_id"`
	OpenRequests int    `json:"open_requests"`
	OpenTasks    int    `json:"open_tasks"`
	DoneRequests int    `json:"done_requests"`
	DoneTasks    int    `json:"done_tasks"`
}

// Roster is the duty roster with the admin set and who is on duty now.
type Roster struct {
	Roster struct {
		Day             []string `json:"day"`
		Night           []string `json:"night"`
		RotationStarted string   `json:"rotation_started"`
	} `json:"roster"`
	Admins      []string `json:"admins"`
	Responsible []string `json:"responsible"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "stats", nil, &resp)
	return resp, err
}

func (c *Client) Workload(ctx context.Context) ([]Workload, error) {
	var resp []Workload
	err := c.do(ctx, http.MethodGet, "workload", nil, &resp)
	return resp, err
}

func (c *Client) Roster(ctx context.Context) (Roster, error) {
	var resp Roster
	err := c.do(ctx, http.MethodGet, "roster", nil, &resp)
	return resp, err
}

// Requests lists requests, optionally filtered by status.
func (c *Client) Requests(ctx context.Context, status string) ([]Request, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var resp []Request
	err := c.do(ctx, http.MethodGet, withQuery("requests", q), nil, &resp)
	return resp, err
}

// Tasks lists tasks, optionally filtered by status and assignee.
func (c *Client) Tasks(ctx context.Context, status, assigneeID string) ([]Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if assigneeID != "" {
		q.Set("assignee_id", assigneeID)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, withQuery("tasks", q), nil, &resp)
	return resp, err
}

func (c *Client) Reminders(ctx context.Context, ownerID string, includeSent bool) ([]Reminder, error) {
	q := url.Values{}
	if ownerID != "" {
		q.Set("owner_id", ownerID)
	}
	if includeSent {
		q.Set("include_sent", "true")
	}
	var resp []Reminder
	err := c.do(ctx, http.MethodGet, withQuery("reminders", q), nil, &resp)
	return resp, err
}

// Events returns recent audit events, newest first.
func (c *Client) Events(ctx context.Context, limit int, entityKind string, entityID int64) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if entityKind != "" {
		q.Set("entity_kind", entityKind)
	}
	if entityID > 0 {
		q.Set("entity_id", strconv.FormatInt(entityID, 10))
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
