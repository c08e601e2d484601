package stub

import (
	"sync"
	"time"
)

// Faults forces failure modes so error paths can be exercised end to end.
// Zero values mean normal behavior.
type Faults struct {
	SignupStatus     int  // answer signup with this status and no body fields
	OmitSignupToken  bool // 201 without a token
	LoginStatus      int
	OmitLoginToken   bool // 200 without a token
	UsersStatus      int
	CreateRoomStatus int
	OmitRoomID       bool          // 201 without an id
	RejectUpgrade    int           // refuse the join handshake with this status
	CloseAfter       time.Duration // server closes each joined socket after this delay
	Latency          time.Duration // added to every request
}

type faultSet struct {
	mu     sync.RWMutex
	faults Faults
}

func (f *faultSet) set(faults Faults) {
	f.mu.Lock()
	f.faults = faults
	f.mu.Unlock()
}

func (f *faultSet) get() Faults {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.faults
}
