package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTimeout bounds every identity service call.
const DefaultTimeout = 15 * time.Second

var transitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "registration_transitions_total",
		Help: "Registration wizard submissions by step and outcome",
	},
	[]string{"step", "outcome"},
)

// Collectors returns the metrics owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{transitionsTotal}
}

// Service runs the wizard: each submission is validated and marked pending in the store, the
// identity call runs outside the store, and its result is applied if the attempt is still current.
type Service struct {
	identity Identity
	store    Store
	timeout  time.Duration
	logger   *slog.Logger
}

func NewService(identity Identity, store Store, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		identity: identity,
		store:    store,
		timeout:  timeout,
		logger:   logger,
	}
}

func (s *Service) Start(ctx context.Context) (*Session, error) {
	sess := NewSession()
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create registration session: %w", err)
	}
	s.logger.InfoContext(ctx, "registration started", "session_id", sess.ID)
	return sess, nil
}

// Get returns the session, first clearing a pending call that has stalled.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil || !sess.Pending || time.Since(sess.UpdatedAt) < s.stallAfter() {
		return sess, err
	}
	return s.store.Update(ctx, id, func(sess *Session) error {
		s.abandonStalled(ctx, sess)
		return nil
	})
}

func (s *Service) SubmitAccount(ctx context.Context, id uuid.UUID, in AccountInput) (*Session, error) {
	var userID string
	return s.submit(ctx, id, StepAccount,
		func(sess *Session) (Attempt, error) { return sess.BeginAccount(in) },
		func(ctx context.Context, _ Session) error {
			var err error
			userID, err = s.identity.CreateAccount(ctx, in)
			return err
		},
		func(sess *Session, a Attempt, callErr error) error { return sess.CompleteAccount(a, userID, callErr) },
	)
}

func (s *Service) SubmitPhone(ctx context.Context, id uuid.UUID, phoneNumber string) (*Session, error) {
	return s.submit(ctx, id, StepPhone,
		func(sess *Session) (Attempt, error) { return sess.BeginPhone(phoneNumber) },
		func(ctx context.Context, sess Session) error {
			return s.identity.IssueOTP(ctx, sess.PhoneNumber)
		},
		(*Session).CompletePhone,
	)
}

// SubmitOTP verifies the code. On success the session is removed and returned with StepComplete.
func (s *Service) SubmitOTP(ctx context.Context, id uuid.UUID, code string) (*Session, error) {
	sess, err := s.submit(ctx, id, StepOTP,
		func(sess *Session) (Attempt, error) { return sess.BeginOTP(code) },
		func(ctx context.Context, sess Session) error {
			return s.identity.VerifyOTP(ctx, sess.PhoneNumber, sess.OTPCode, sess.UserID)
		},
		(*Session).CompleteOTP,
	)
	if err != nil || sess.Step != StepComplete {
		return sess, err
	}
	if err := s.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		s.logger.WarnContext(ctx, "failed to delete completed registration", "session_id", id, "error", err)
	}
	return sess, nil
}

func (s *Service) Back(ctx context.Context, id uuid.UUID) (*Session, error) {
	sess, err := s.store.Update(ctx, id, func(sess *Session) error {
		s.abandonStalled(ctx, sess)
		return sess.Back()
	})
	if err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(sess.Step.String(), "back").Inc()
	return sess, nil
}

func (s *Service) submit(
	ctx context.Context,
	id uuid.UUID,
	step Step,
	begin func(*Session) (Attempt, error),
	call func(context.Context, Session) error,
	complete func(*Session, Attempt, error) error,
) (*Session, error) {
	logger := s.logger.With("session_id", id, "step", step.String())

	var (
		attempt  Attempt
		snapshot Session
		rejected *ValidationError
	)
	sess, err := s.store.Update(ctx, id, func(sess *Session) error {
		rejected = nil
		s.abandonStalled(ctx, sess)
		a, err := begin(sess)
		if errors.As(err, &rejected) {
			// keep LastError
			return nil
		}
		if err != nil {
			return err
		}
		attempt, snapshot = a, *sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		transitionsTotal.WithLabelValues(step.String(), "invalid").Inc()
		return sess, rejected
	}

	// The call runs to completion even if the caller goes away, bounded by the timeout. If its
	// result cannot be stored the session stays pending until abandonStalled clears it.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	callErr := call(callCtx, snapshot)
	if errors.Is(callErr, context.DeadlineExceeded) {
		logger.WarnContext(ctx, "identity call timed out", "timeout", s.timeout)
	}

	var failed *ExternalError
	sess, err = s.store.Update(context.WithoutCancel(ctx), id, func(sess *Session) error {
		failed = nil
		err := complete(sess, attempt, callErr)
		if errors.As(err, &failed) {
			return nil
		}
		return err
	})
	switch {
	case errors.Is(err, ErrStaleAttempt):
		transitionsTotal.WithLabelValues(step.String(), "stale").Inc()
		logger.InfoContext(ctx, "discarded stale registration result", "attempt", attempt.Seq)
		return nil, err
	case err != nil:
		return nil, err
	case failed != nil:
		transitionsTotal.WithLabelValues(step.String(), "failed").Inc()
		logger.WarnContext(ctx, "identity call failed", "error", callErr)
		return sess, failed
	}

	transitionsTotal.WithLabelValues(step.String(), "advanced").Inc()
	logger.InfoContext(ctx, "registration step completed", "next", sess.Step.String())
	return sess, nil
}

// stallAfter is how long a session may stay pending before its call is considered lost. A live
// call gives up after the timeout, so twice that leaves room for its result to be written.
func (s *Service) stallAfter() time.Duration {
	return 2 * s.timeout
}

func (s *Service) abandonStalled(ctx context.Context, sess *Session) {
	if !sess.Abandon(s.stallAfter(), time.Now()) {
		return
	}
	transitionsTotal.WithLabelValues(sess.Step.String(), "abandoned").Inc()
	s.logger.WarnContext(ctx, "cleared stalled registration request", "session_id", sess.ID, "step", sess.Step.String())
}
