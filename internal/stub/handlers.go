package stub

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"chatload/pkg/types"
)

const (
	joinedContent = "A New User Joined The Room"
	leftContent   = "User Left The Room"
)

func injected(c *gin.Context, status int) {
	c.JSON(status, gin.H{"error": "injected fault"})
}

func (s *Server) signup(c *gin.Context) {
	faults := s.faults.get()
	if faults.SignupStatus != 0 {
		injected(c, faults.SignupStatus)
		return
	}

	var creds types.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := creds.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.accounts.createUser(creds)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{"message": "User created successfully", "user": user}
	if !faults.OmitSignupToken {
		token, err := GenerateToken(user.Username, s.secret, s.config.TokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		body["token"] = token
	}
	c.JSON(http.StatusCreated, body)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(c *gin.Context) {
	faults := s.faults.get()
	if faults.LoginStatus != 0 {
		injected(c, faults.LoginStatus)
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.accounts.authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	case errors.Is(err, ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if faults.OmitLoginToken {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	token, err := GenerateToken(user.Username, s.secret, s.config.TokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) listUsers(c *gin.Context) {
	if status := s.faults.get().UsersStatus; status != 0 {
		injected(c, status)
		return
	}
	c.JSON(http.StatusOK, s.accounts.listUsers())
}

func (s *Server) createRoom(c *gin.Context) {
	faults := s.faults.get()
	if faults.CreateRoomStatus != 0 {
		injected(c, faults.CreateRoomStatus)
		return
	}

	// FUNCTIONAL DISCOVERY: "name" must be the only field in the body
	var raw map[string]interface{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name, ok := raw["name"].(string)
	if len(raw) != 1 || !ok || name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Request body must contain only a non-empty name"})
		return
	}

	room := s.accounts.createRoom(name, c.GetString(usernameKey))
	s.logger.WithFields(logrus.Fields{"room": room.ID, "user": room.Owner}).Info("room created")

	if faults.OmitRoomID {
		c.JSON(http.StatusCreated, gin.H{"name": room.Name})
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (s *Server) roomParam(c *gin.Context) (Room, bool) {
	id, err := strconv.ParseInt(c.Param("roomId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room ID"})
		return Room{}, false
	}
	room, ok := s.accounts.room(int32(id))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrRoomNotFound.Error()})
		return Room{}, false
	}
	return room, true
}

// joinRoom upgrades to a room socket. The room is resolved before the upgrade
// so an unknown id is a plain HTTP error.
func (s *Server) joinRoom(c *gin.Context) {
	room, ok := s.roomParam(c)
	if !ok {
		return
	}

	faults := s.faults.get()
	if faults.RejectUpgrade != 0 {
		injected(c, faults.RejectUpgrade)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the error response
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	username := c.GetString(usernameKey)
	conn := NewConnection(ws, username, room.ID)
	if err := s.registry.Register(conn); err != nil {
		_ = conn.Close()
		return
	}

	logger := s.logger.WithFields(logrus.Fields{"room": room.ID, "user": username})
	logger.Info("member joined")
	s.registry.Broadcast(&Message{Content: joinedContent, Username: username, RoomID: room.ID})

	if faults.CloseAfter > 0 {
		go func() {
			select {
			case <-time.After(faults.CloseAfter):
				_ = conn.CloseWithReason(websocket.CloseNormalClosure, "closed by server")
			case <-conn.Done():
			}
		}()
	}

	go s.readLoop(conn, ws, logger)
}

// readLoop broadcasts each received text frame until the member leaves
func (s *Server) readLoop(conn *Connection, ws *websocket.Conn, logger logrus.FieldLogger) {
	defer func() {
		if s.registry.Unregister(conn) {
			s.registry.Broadcast(&Message{Content: leftContent, Username: conn.Username(), RoomID: conn.RoomID()})
			logger.Info("member left")
		}
		_ = conn.Close()
		s.limiter.Cleanup()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WithError(err).Warn("member read failed")
			}
			return
		}

		// FUNCTIONAL DISCOVERY: Over-limit messages are dropped, the socket stays open
		if !s.limiter.Allow(conn.Username()) {
			logger.Debug("message dropped by rate limit")
			continue
		}
		s.registry.Broadcast(&Message{Content: string(data), Username: conn.Username(), RoomID: conn.RoomID()})
	}
}

func (s *Server) getRooms(c *gin.Context) {
	c.JSON(http.StatusOK, s.accounts.listRooms())
}

type clientResponse struct {
	Username string `json:"username"`
}

func (s *Server) getClients(c *gin.Context) {
	room, ok := s.roomParam(c)
	if !ok {
		return
	}

	clients := make([]clientResponse, 0)
	for _, name := range s.registry.Usernames(room.ID) {
		clients = append(clients, clientResponse{Username: name})
	}
	c.JSON(http.StatusOK, clients)
}
