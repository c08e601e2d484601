package scenario

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"chatload/internal/api"
	"chatload/internal/logging"
	"chatload/internal/websocket"
	"chatload/pkg/types"
)

// RoomOptions configures the two-user room scenario
type RoomOptions struct {
	Owner            types.Credentials
	Guest            types.Credentials
	OwnerMessage     string
	GuestMessage     string
	RoomName         string
	SessionTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// UniqueUsers suffixes both usernames per iteration so repeated signups do not collide
	UniqueUsers bool

	Dialer    *gorilla.Dialer
	OnMessage func(username string, data []byte)
}

// DefaultRoomOptions returns the fixed identities and messages of the room script
func DefaultRoomOptions() RoomOptions {
	return RoomOptions{
		Owner:          types.Credentials{Username: "user1", Email: "user1@test.com", Password: "password123"},
		Guest:          types.Credentials{Username: "user2", Email: "user2@test.com", Password: "password123"},
		OwnerMessage:   "Hello from User 1",
		GuestMessage:   "Hello from User 2",
		RoomName:       "TestRoom",
		SessionTimeout: websocket.DefaultSessionTimeout,
	}
}

// RoomFlow is signup x2 -> owner creates room -> both users join concurrently
// ARCHITECTURAL DISCOVERY: The room id is the only value shared between the two
// users; it is handed over once, before either join starts, and nothing is
// shared after that
type RoomFlow struct {
	api    API
	opts   RoomOptions
	logger logrus.FieldLogger
	seq    atomic.Int64
}

// NewRoomFlow creates the room scenario against api
func NewRoomFlow(api API, opts RoomOptions, logger logrus.FieldLogger) *RoomFlow {
	defaults := DefaultRoomOptions()
	if opts.Owner.Username == "" {
		opts.Owner = defaults.Owner
	}
	if opts.Guest.Username == "" {
		opts.Guest = defaults.Guest
	}
	if opts.OwnerMessage == "" {
		opts.OwnerMessage = defaults.OwnerMessage
	}
	if opts.GuestMessage == "" {
		opts.GuestMessage = defaults.GuestMessage
	}
	if opts.RoomName == "" {
		opts.RoomName = defaults.RoomName
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = defaults.SessionTimeout
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &RoomFlow{
		api:    api,
		opts:   opts,
		logger: logger.WithField("scenario", types.ScenarioRoom),
	}
}

func (f *RoomFlow) Name() string {
	return types.ScenarioRoom
}

// joiner is one side of the rendezvous
type joiner struct {
	creds   types.Credentials
	token   types.Token
	message string
}

// Run executes one room iteration. The outcome always holds five checks in order:
// owner signup, guest signup, room creation, owner socket, guest socket.
func (f *RoomFlow) Run(ctx context.Context, vu int) *types.Outcome {
	outcome := newOutcome(f.Name(), vu)
	logger := f.logger.WithField("vu", vu)
	owner, guest := f.identities(vu)

	ownerToken := f.signup(ctx, logger, outcome, owner)
	guestToken := f.signup(ctx, logger, outcome, guest)

	var room types.Room
	if ownerToken == "" {
		skip(logger, outcome, types.CheckCreateRoom, "owner token")
	} else {
		start := time.Now()
		var err error
		room, err = f.api.CreateRoom(ctx, ownerToken, f.opts.RoomName)
		record(logger, outcome, types.CheckCreateRoom, err, time.Since(start))
	}

	// FUNCTIONAL DISCOVERY: No room means no sockets at all for this iteration
	if room.ID == "" {
		skip(logger, outcome, types.CheckWebSocket, "room id")
		skip(logger, outcome, types.CheckWebSocket, "room id")
		outcome.Duration = time.Since(outcome.StartedAt)
		return outcome
	}

	joiners := []joiner{
		{creds: owner, token: ownerToken, message: f.opts.OwnerMessage},
		{creds: guest, token: guestToken, message: f.opts.GuestMessage},
	}
	results := f.joinAll(ctx, logger.WithField("room", room.ID), room.ID, joiners)

	for i, j := range joiners {
		result := results[i]
		if result == nil {
			skip(logger.WithField("user", j.creds.Username), outcome, types.CheckWebSocket, "auth token")
			continue
		}

		took := result.OpenedAt.Sub(result.StartedAt)
		if result.Connected() {
			outcome.Pass(types.CheckWebSocket, took)
			continue
		}
		if took < 0 {
			took = result.Duration()
		}
		record(logger.WithField("user", j.creds.Username), outcome, types.CheckWebSocket, result.Err, took)
	}

	outcome.Duration = time.Since(outcome.StartedAt)
	return outcome
}

// signup registers one user and returns the issued token, or "" on any failure
func (f *RoomFlow) signup(ctx context.Context, logger logrus.FieldLogger, outcome *types.Outcome, creds types.Credentials) types.Token {
	logger = logger.WithField("user", creds.Username)

	start := time.Now()
	token, err := f.api.Signup(ctx, creds)
	record(logger, outcome, types.CheckSignup, err, time.Since(start))
	if err != nil {
		return ""
	}
	if token == "" {
		logger.WithError(&types.MissingFieldError{Op: "signup", Field: "token"}).Warn("signup issued no token")
	}
	return token
}

// joinAll starts every join before waiting on any of them. Joiners without a token
// get a nil result and never open a socket.
func (f *RoomFlow) joinAll(ctx context.Context, logger logrus.FieldLogger, roomID string, joiners []joiner) []*websocket.Result {
	results := make([]*websocket.Result, len(joiners))
	url := f.api.JoinURL(roomID)

	var wg sync.WaitGroup
	for i, j := range joiners {
		if j.token == "" {
			continue
		}

		userLogger := logger.WithField("user", j.creds.Username)
		var hook func([]byte)
		if f.opts.OnMessage != nil {
			username := j.creds.Username
			hook = func(data []byte) { f.opts.OnMessage(username, data) }
		}

		session := websocket.NewSession(url, websocket.Options{
			Header:           api.AuthHeader(j.token),
			Message:          j.message,
			Timeout:          f.opts.SessionTimeout,
			HandshakeTimeout: f.opts.HandshakeTimeout,
			WriteTimeout:     f.opts.WriteTimeout,
			OnMessage:        hook,
			Dialer:           f.opts.Dialer,
			Logger:           userLogger,
		})

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = session.Run(ctx)
		}(i)
	}
	wg.Wait()

	return results
}

func (f *RoomFlow) identities(vu int) (types.Credentials, types.Credentials) {
	owner, guest := f.opts.Owner, f.opts.Guest
	if !f.opts.UniqueUsers {
		return owner, guest
	}

	suffix := fmt.Sprintf("_%d_%d", vu, f.seq.Add(1))
	return withSuffix(owner, suffix), withSuffix(guest, suffix)
}

func withSuffix(creds types.Credentials, suffix string) types.Credentials {
	creds.Username += suffix
	if at := strings.IndexByte(creds.Email, '@'); at >= 0 {
		creds.Email = creds.Email[:at] + suffix + creds.Email[at:]
	}
	return creds
}
