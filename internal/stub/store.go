package stub

import (
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"chatload/pkg/types"
)

// User is a registered account. The hash never leaves the store.
type User struct {
	ID       int32   `json:"id"`
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Age      int     `json:"age"`
	Room     *string `json:"room"`
	hash     []byte
}

// Room is a chat room created by an authenticated user
// FUNCTIONAL DISCOVERY: Ids are numeric on the wire; clients must not assume strings
type Room struct {
	ID    int32  `json:"id"`
	Name  string `json:"name"`
	Owner string `json:"-"`
}

// accounts is the in-memory user and room table
type accounts struct {
	mu         sync.RWMutex
	cost       int
	users      map[string]*User
	rooms      map[int32]*Room
	nextUserID int32
	nextRoomID int32
}

func newAccounts(cost int) *accounts {
	return &accounts{
		cost:  cost,
		users: make(map[string]*User),
		rooms: make(map[int32]*Room),
	}
}

func (a *accounts) createUser(creds types.Credentials) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), a.cost)
	if err != nil {
		return User{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.users[creds.Username]; exists {
		return User{}, ErrUserExists
	}
	a.nextUserID++
	user := &User{
		ID:       a.nextUserID,
		Username: creds.Username,
		Email:    creds.Email,
		Age:      creds.Age,
		Room:     creds.Room,
		hash:     hash,
	}
	a.users[user.Username] = user
	return *user, nil
}

func (a *accounts) authenticate(username, password string) (User, error) {
	a.mu.RLock()
	user, exists := a.users[username]
	a.mu.RUnlock()
	if !exists {
		return User{}, ErrUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword(user.hash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return *user, nil
}

func (a *accounts) listUsers() []User {
	a.mu.RLock()
	defer a.mu.RUnlock()

	users := make([]User, 0, len(a.users))
	for _, u := range a.users {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func (a *accounts) createRoom(name, owner string) Room {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextRoomID++
	room := &Room{ID: a.nextRoomID, Name: name, Owner: owner}
	a.rooms[room.ID] = room
	return *room
}

func (a *accounts) room(id int32) (Room, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	room, ok := a.rooms[id]
	if !ok {
		return Room{}, false
	}
	return *room, true
}

func (a *accounts) listRooms() []Room {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rooms := make([]Room, 0, len(a.rooms))
	for _, r := range a.rooms {
		rooms = append(rooms, *r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}
