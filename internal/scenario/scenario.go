// Package scenario holds the scripted user workflows run by virtual users.
package scenario

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"chatload/pkg/types"
)

// API is the part of the target service the scenarios call
type API interface {
	Signup(ctx context.Context, creds types.Credentials) (types.Token, error)
	Login(ctx context.Context, username, password string) (types.Token, error)
	ListUsers(ctx context.Context, token types.Token) error
	CreateRoom(ctx context.Context, token types.Token, name string) (types.Room, error)
	JoinURL(roomID string) string
}

func newOutcome(name string, vu int) *types.Outcome {
	return &types.Outcome{
		Scenario:    name,
		VirtualUser: vu,
		StartedAt:   time.Now(),
		Checks:      make([]types.CheckResult, 0, 5),
	}
}

// record appends the check and logs failures with the response context
func record(logger logrus.FieldLogger, outcome *types.Outcome, name string, err error, took time.Duration) {
	outcome.Record(name, err, took)
	if err == nil {
		return
	}

	entry := logger.WithField("check", name).WithError(err)
	var statusErr *types.StatusError
	if errors.As(err, &statusErr) {
		entry = entry.WithFields(logrus.Fields{"status": statusErr.Status, "body": statusErr.Body})
	}
	entry.Warn("check failed")
}

// skip records a dependent step as failed without attempting it
func skip(logger logrus.FieldLogger, outcome *types.Outcome, name, prerequisite string) {
	outcome.Fail(name, types.Skipped(prerequisite), 0)
	logger.WithFields(logrus.Fields{"check": name, "missing": prerequisite}).Warn("check skipped")
}
