package scenario

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatload/pkg/types"
)

// fakeAPI scripts target responses per call
type fakeAPI struct {
	mu sync.Mutex

	signupErr   map[string]error
	signupToken map[string]types.Token
	loginErr    error
	loginToken  types.Token
	listErr     error
	room        types.Room
	roomErr     error
	joinURL     string

	signups    []types.Credentials
	listTokens []types.Token
	roomCalls  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		signupErr:   map[string]error{},
		signupToken: map[string]types.Token{},
		loginToken:  "login-token",
		room:        types.Room{ID: "1", Name: "TestRoom"},
	}
}

func (f *fakeAPI) Signup(ctx context.Context, creds types.Credentials) (types.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signups = append(f.signups, creds)
	if err := f.signupErr[creds.Username]; err != nil {
		return "", err
	}
	if token, ok := f.signupToken[creds.Username]; ok {
		return token, nil
	}
	return "token-" + creds.Username, nil
}

func (f *fakeAPI) Login(ctx context.Context, username, password string) (types.Token, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return f.loginToken, nil
}

func (f *fakeAPI) ListUsers(ctx context.Context, token types.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listTokens = append(f.listTokens, token)
	return f.listErr
}

func (f *fakeAPI) CreateRoom(ctx context.Context, token types.Token, name string) (types.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomCalls++
	if f.roomErr != nil {
		return types.Room{}, f.roomErr
	}
	return f.room, nil
}

func (f *fakeAPI) JoinURL(roomID string) string {
	return f.joinURL
}

func statusErr(op string, expected, got int) error {
	return &types.StatusError{Op: op, Expected: expected, Status: got, Body: `{"error":"nope"}`}
}

// roomServer accepts sockets carrying a bearer token, greets them, and closes after the first frame
func roomServer(t *testing.T, joined *sync.WaitGroup) *httptest.Server {
	t.Helper()
	upgrader := gorilla.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if joined != nil {
			joined.Done()
			joined.Wait()
		}
		_ = conn.WriteMessage(gorilla.TextMessage, []byte(`{"content":"A New User Joined The Room"}`))
		_, _, _ = conn.ReadMessage()
		msg := gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "")
		_ = conn.WriteControl(gorilla.CloseMessage, msg, time.Now().Add(time.Second))
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestHTTPFlow_AllChecksPass(t *testing.T) {
	api := newFakeAPI()
	outcome := NewHTTPFlow(api, nil).Run(context.Background(), 7)

	assert.Equal(t, types.ScenarioHTTP, outcome.Scenario)
	assert.Equal(t, 7, outcome.VirtualUser)
	assert.Equal(t, []string{types.CheckSignup, types.CheckLogin, types.CheckFetchUsers}, outcome.Names())
	assert.True(t, outcome.Passed())

	require.Len(t, api.signups, 1)
	assert.Equal(t, "user_7", api.signups[0].Username)
	assert.Equal(t, "user_7@example.com", api.signups[0].Email)
	assert.Equal(t, []types.Token{"login-token"}, api.listTokens)
}

func TestHTTPFlow_SignupFailureStillLogsIn(t *testing.T) {
	api := newFakeAPI()
	api.signupErr["user_3"] = statusErr("signup", 201, 409)

	outcome := NewHTTPFlow(api, nil).Run(context.Background(), 3)

	require.Len(t, outcome.Checks, 3)
	assert.False(t, outcome.Checks[0].Passed)
	assert.True(t, outcome.Checks[1].Passed)
	assert.True(t, outcome.Checks[2].Passed)
}

func TestHTTPFlow_LoginFailureSkipsFetch(t *testing.T) {
	api := newFakeAPI()
	api.loginErr = statusErr("login", 200, 401)

	outcome := NewHTTPFlow(api, nil).Run(context.Background(), 1)

	require.Len(t, outcome.Checks, 3)
	assert.True(t, outcome.Checks[0].Passed)
	assert.False(t, outcome.Checks[1].Passed)
	assert.ErrorIs(t, outcome.Checks[1].Err, types.ErrUnexpectedStatus)

	fetch := outcome.Checks[2]
	assert.Equal(t, types.CheckFetchUsers, fetch.Name)
	assert.False(t, fetch.Passed)
	assert.ErrorIs(t, fetch.Err, types.ErrSkipped)
	assert.Empty(t, api.listTokens, "fetch must not be attempted without a token")
}

func TestHTTPFlow_FetchFailure(t *testing.T) {
	api := newFakeAPI()
	api.listErr = statusErr("list users", 200, 500)

	outcome := NewHTTPFlow(api, nil).Run(context.Background(), 1)

	assert.False(t, outcome.Passed())
	fetch, ok := outcome.Check(types.CheckFetchUsers)
	require.True(t, ok)
	assert.False(t, fetch.Passed)
	assert.Contains(t, fetch.Detail, "500")
}

func TestRoomFlow_AllChecksPass(t *testing.T) {
	var joined sync.WaitGroup
	joined.Add(2)
	server := roomServer(t, &joined)

	api := newFakeAPI()
	api.joinURL = wsURL(server)

	flow := NewRoomFlow(api, RoomOptions{SessionTimeout: 3 * time.Second}, nil)
	outcome := flow.Run(context.Background(), 0)

	assert.Equal(t, types.ScenarioRoom, outcome.Scenario)
	assert.Equal(t, []string{
		types.CheckSignup, types.CheckSignup, types.CheckCreateRoom,
		types.CheckWebSocket, types.CheckWebSocket,
	}, outcome.Names())
	assert.True(t, outcome.Passed(), "%+v", outcome.Checks)

	require.Len(t, api.signups, 2)
	assert.Equal(t, "user1", api.signups[0].Username)
	assert.Equal(t, "user2@test.com", api.signups[1].Email)
	assert.Equal(t, 1, api.roomCalls)
}

func TestRoomFlow_JoinsAreConcurrent(t *testing.T) {
	// Each server handler blocks until both sockets are upgraded, so sequential
	// joins would hit the session timeout instead of a server close
	var joined sync.WaitGroup
	joined.Add(2)
	server := roomServer(t, &joined)

	api := newFakeAPI()
	api.joinURL = wsURL(server)

	start := time.Now()
	outcome := NewRoomFlow(api, RoomOptions{SessionTimeout: 5 * time.Second}, nil).Run(context.Background(), 0)

	assert.True(t, outcome.Passed())
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRoomFlow_NoOwnerTokenSkipsRoomAndSockets(t *testing.T) {
	api := newFakeAPI()
	api.signupErr["user1"] = statusErr("signup", 201, 400)
	api.joinURL = "ws://127.0.0.1:1/unreachable"

	outcome := NewRoomFlow(api, RoomOptions{}, nil).Run(context.Background(), 0)

	require.Len(t, outcome.Checks, 5)
	assert.False(t, outcome.Checks[0].Passed)
	assert.True(t, outcome.Checks[1].Passed)
	for _, c := range outcome.Checks[2:] {
		assert.False(t, c.Passed, c.Name)
		assert.ErrorIs(t, c.Err, types.ErrSkipped, c.Name)
	}
	assert.Zero(t, api.roomCalls)
}

func TestRoomFlow_RoomFailureSkipsSockets(t *testing.T) {
	api := newFakeAPI()
	api.roomErr = statusErr("create room", 201, 500)

	outcome := NewRoomFlow(api, RoomOptions{}, nil).Run(context.Background(), 0)

	require.Len(t, outcome.Checks, 5)
	assert.True(t, outcome.Checks[0].Passed)
	assert.True(t, outcome.Checks[1].Passed)
	assert.False(t, outcome.Checks[2].Passed)
	assert.ErrorIs(t, outcome.Checks[3].Err, types.ErrSkipped)
	assert.ErrorIs(t, outcome.Checks[4].Err, types.ErrSkipped)
}

func TestRoomFlow_GuestWithoutTokenOnlyOwnerJoins(t *testing.T) {
	server := roomServer(t, nil)

	api := newFakeAPI()
	api.signupToken["user2"] = ""
	api.joinURL = wsURL(server)

	outcome := NewRoomFlow(api, RoomOptions{SessionTimeout: 2 * time.Second}, nil).Run(context.Background(), 0)

	require.Len(t, outcome.Checks, 5)
	assert.True(t, outcome.Checks[1].Passed, "201 without token still passes signup")
	assert.True(t, outcome.Checks[3].Passed)
	assert.False(t, outcome.Checks[4].Passed)
	assert.ErrorIs(t, outcome.Checks[4].Err, types.ErrSkipped)
}

func TestRoomFlow_RejectedHandshakeFailsCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "room not found", http.StatusNotFound)
	}))
	defer server.Close()

	api := newFakeAPI()
	api.joinURL = wsURL(server)

	outcome := NewRoomFlow(api, RoomOptions{SessionTimeout: time.Second}, nil).Run(context.Background(), 0)

	require.Len(t, outcome.Checks, 5)
	assert.True(t, outcome.Checks[2].Passed)
	assert.ErrorIs(t, outcome.Checks[3].Err, types.ErrHandshakeFailed)
	assert.ErrorIs(t, outcome.Checks[4].Err, types.ErrHandshakeFailed)
}

func TestRoomFlow_UniqueUsers(t *testing.T) {
	api := newFakeAPI()
	api.roomErr = statusErr("create room", 201, 500)
	flow := NewRoomFlow(api, RoomOptions{UniqueUsers: true}, nil)

	flow.Run(context.Background(), 4)
	flow.Run(context.Background(), 4)

	require.Len(t, api.signups, 4)
	assert.Equal(t, "user1_4_1", api.signups[0].Username)
	assert.Equal(t, "user2_4_1@test.com", api.signups[1].Email)
	assert.Equal(t, "user1_4_2", api.signups[2].Username)
}

func TestRoomFlow_OnMessageHook(t *testing.T) {
	server := roomServer(t, nil)
	api := newFakeAPI()
	api.joinURL = wsURL(server)

	var mu sync.Mutex
	seen := map[string]int{}
	flow := NewRoomFlow(api, RoomOptions{
		SessionTimeout: 2 * time.Second,
		OnMessage: func(username string, data []byte) {
			mu.Lock()
			seen[username]++
			mu.Unlock()
		},
	}, nil)
	outcome := flow.Run(context.Background(), 0)

	assert.True(t, outcome.Passed())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"user1": 1, "user2": 1}, seen)
}
