package scenario

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"chatload/internal/logging"
	"chatload/pkg/types"
)

// HTTPFlow is the signup -> login -> authenticated fetch sequence
type HTTPFlow struct {
	api    API
	logger logrus.FieldLogger
}

// NewHTTPFlow creates the HTTP scenario against api
func NewHTTPFlow(api API, logger logrus.FieldLogger) *HTTPFlow {
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTPFlow{api: api, logger: logger.WithField("scenario", types.ScenarioHTTP)}
}

func (f *HTTPFlow) Name() string {
	return types.ScenarioHTTP
}

// Run executes the three steps for virtual user vu. Steps are strictly sequential;
// the fetch is never attempted without a token.
func (f *HTTPFlow) Run(ctx context.Context, vu int) *types.Outcome {
	outcome := newOutcome(f.Name(), vu)
	creds := types.VirtualUserCredentials(vu)
	logger := f.logger.WithFields(logrus.Fields{"vu": vu, "user": creds.Username})

	start := time.Now()
	_, err := f.api.Signup(ctx, creds)
	record(logger, outcome, types.CheckSignup, err, time.Since(start))

	start = time.Now()
	token, err := f.api.Login(ctx, creds.Username, creds.Password)
	record(logger, outcome, types.CheckLogin, err, time.Since(start))

	if token == "" {
		skip(logger, outcome, types.CheckFetchUsers, "auth token")
	} else {
		start = time.Now()
		err = f.api.ListUsers(ctx, token)
		record(logger, outcome, types.CheckFetchUsers, err, time.Since(start))
	}

	outcome.Duration = time.Since(outcome.StartedAt)
	return outcome
}
