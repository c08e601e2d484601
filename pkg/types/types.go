package types

import (
	"time"
)

// Check names recorded by the scenario runners
// ARCHITECTURAL DISCOVERY: Names are reporting keys - the aggregate report and the
// exit status are computed per name, so they must stay byte-for-byte stable
const (
	CheckSignup     = "Signup successful"
	CheckLogin      = "Login successful"
	CheckFetchUsers = "Fetched users"
	CheckCreateRoom = "Room created successfully"
	CheckWebSocket  = "WebSocket connection successful"
)

// Scenario kinds understood by the coordinator and CLI
const (
	ScenarioHTTP = "http"
	ScenarioRoom = "ws"
)

// Token is an opaque bearer token. The empty string is the "no token" sentinel.
type Token = string

// Credentials identify one simulated user for the lifetime of a scenario
// FUNCTIONAL DISCOVERY: Room serializes as explicit null because the signup
// endpoint expects the field to be present
type Credentials struct {
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Age      int     `json:"age,omitempty"`
	Room     *string `json:"room"`
}

// Room is created by exactly one owner and joined by id
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CheckResult is one named assertion against an observed response
type CheckResult struct {
	Name   string        `json:"name"`
	Passed bool          `json:"passed"`
	Detail string        `json:"detail,omitempty"`
	Err    error         `json:"-"`
	Took   time.Duration `json:"took"`
}

// Outcome is the ordered list of checks produced by one scenario iteration
// ARCHITECTURAL DISCOVERY: Checks length and order always match the scripted
// step sequence, skipped steps included, so outcomes compare deterministically
type Outcome struct {
	Scenario    string        `json:"scenario"`
	VirtualUser int           `json:"virtual_user"`
	Iteration   int           `json:"iteration"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Checks      []CheckResult `json:"checks"`
}

// Pass appends a passed check
func (o *Outcome) Pass(name string, took time.Duration) {
	o.Checks = append(o.Checks, CheckResult{Name: name, Passed: true, Took: took})
}

// Fail appends a failed check carrying the cause
func (o *Outcome) Fail(name string, err error, took time.Duration) {
	result := CheckResult{Name: name, Passed: false, Err: err, Took: took}
	if err != nil {
		result.Detail = err.Error()
	}
	o.Checks = append(o.Checks, result)
}

// Record appends a check whose result is decided by err
func (o *Outcome) Record(name string, err error, took time.Duration) {
	if err != nil {
		o.Fail(name, err, took)
		return
	}
	o.Pass(name, took)
}

// Passed reports whether every check in the outcome passed
func (o *Outcome) Passed() bool {
	for _, c := range o.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Names returns the check names in recorded order
func (o *Outcome) Names() []string {
	names := make([]string, len(o.Checks))
	for i, c := range o.Checks {
		names[i] = c.Name
	}
	return names
}

// Check returns the first check with the given name
func (o *Outcome) Check(name string) (CheckResult, bool) {
	for _, c := range o.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}
