package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"chatload/internal/logging"
	"chatload/pkg/types"
)

// Endpoint paths of the service under test
const (
	PathSignup     = "/api/users/signup"
	PathLogin      = "/api/users/login"
	PathUsers      = "/api/users"
	PathCreateRoom = "/api/ws/create-room"
	PathJoinRoom   = "/api/ws/join-room/"
)

const maxLoggedBody = 512

// ARCHITECTURAL DISCOVERY: API client is a pure transport layer - it returns typed
// errors and leaves check recording to the scenario runners
type Client struct {
	baseURL    string
	wsBaseURL  string
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// Response keeps the raw context attached to every log entry and error
type Response struct {
	Status int
	Body   []byte
}

// NewClient creates a client for baseURL (scheme://host[:port]).
// The WebSocket origin is derived from it by swapping the scheme.
func NewClient(baseURL string, httpClient *http.Client, logger logrus.FieldLogger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must use http or https", baseURL)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = logging.Discard()
	}

	ws := *u
	ws.Scheme = "ws"
	if u.Scheme == "https" {
		ws.Scheme = "wss"
	}

	return &Client{
		baseURL:    u.String(),
		wsBaseURL:  ws.String(),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// BaseURL returns the HTTP origin requests are sent to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// JoinURL returns the WebSocket endpoint of a room
func (c *Client) JoinURL(roomID string) string {
	return c.wsBaseURL + PathJoinRoom + url.PathEscape(roomID)
}

// AuthHeader builds the bearer header used by authenticated calls and the WebSocket handshake
func AuthHeader(token types.Token) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

type signupResponse struct {
	Token string `json:"token"`
}

// Signup registers a user. The returned token is empty when the service did not
// issue one; callers that need it decide whether that is a failure.
func (c *Client) Signup(ctx context.Context, creds types.Credentials) (types.Token, error) {
	resp, err := c.do(ctx, "signup", http.MethodPost, PathSignup, "", creds)
	if err != nil {
		return "", err
	}
	if err := expect("signup", resp, http.StatusCreated); err != nil {
		return "", err
	}

	var body signupResponse
	_ = json.Unmarshal(resp.Body, &body)
	return body.Token, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token. A 200 without a token is a MissingField failure.
func (c *Client) Login(ctx context.Context, username, password string) (types.Token, error) {
	resp, err := c.do(ctx, "login", http.MethodPost, PathLogin, "", loginRequest{Username: username, Password: password})
	if err != nil {
		return "", err
	}
	if err := expect("login", resp, http.StatusOK); err != nil {
		return "", err
	}

	var body signupResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Token == "" {
		return "", &types.MissingFieldError{Op: "login", Field: "token"}
	}
	return body.Token, nil
}

// ListUsers fetches the user list with bearer auth
func (c *Client) ListUsers(ctx context.Context, token types.Token) error {
	resp, err := c.do(ctx, "list users", http.MethodGet, PathUsers, token, nil)
	if err != nil {
		return err
	}
	return expect("list users", resp, http.StatusOK)
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type createRoomResponse struct {
	ID   json.RawMessage `json:"id"`
	Name string          `json:"name"`
}

// CreateRoom creates a room owned by the token's user and returns its server-assigned id
func (c *Client) CreateRoom(ctx context.Context, token types.Token, name string) (types.Room, error) {
	resp, err := c.do(ctx, "create room", http.MethodPost, PathCreateRoom, token, createRoomRequest{Name: name})
	if err != nil {
		return types.Room{}, err
	}
	if err := expect("create room", resp, http.StatusCreated); err != nil {
		return types.Room{}, err
	}

	var body createRoomResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return types.Room{}, &types.MissingFieldError{Op: "create room", Field: "id"}
	}

	id, ok := normalizeID(body.ID)
	if !ok {
		return types.Room{}, &types.MissingFieldError{Op: "create room", Field: "id"}
	}

	if body.Name == "" {
		body.Name = name
	}
	return types.Room{ID: id, Name: body.Name}, nil
}

// FUNCTIONAL DISCOVERY: Room ids arrive as JSON numbers from the reference server
// but may be strings elsewhere - both become the path segment used to join
func normalizeID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}

	return "", false
}

func (c *Client) do(ctx context.Context, op, method, path string, token types.Token, payload interface{}) (*Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	resp := &Response{Status: httpResp.StatusCode, Body: data}
	c.logger.WithFields(logrus.Fields{
		"op":     op,
		"status": resp.Status,
		"body":   logging.Truncate(string(resp.Body), maxLoggedBody),
	}).Debug("response received")

	return resp, nil
}

func expect(op string, resp *Response, status int) error {
	if resp.Status == status {
		return nil
	}
	return &types.StatusError{
		Op:       op,
		Expected: status,
		Status:   resp.Status,
		Body:     logging.Truncate(strings.TrimSpace(string(resp.Body)), maxLoggedBody),
	}
}
