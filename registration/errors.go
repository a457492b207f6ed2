package registration

import (
	"errors"
	"strings"
)

var (
	ErrNotFound       = errors.New("registration session not found")
	ErrPending        = errors.New("a request for this step is still pending")
	ErrWrongStep      = errors.New("registration session is not at this step")
	ErrStaleAttempt   = errors.New("registration attempt is no longer current")
	ErrNoPreviousStep = errors.New("registration session has no previous step")
	ErrIncomplete     = errors.New("registration session is missing its user id or phone number")

	errNoUserID = errors.New("identity service returned no user id")
)

// ValidationError is a local rejection of a submission. Nothing was sent to the identity service.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ExternalError is a failed identity service call.
type ExternalError struct {
	Step    Step
	Message string
	Err     error
}

func (e *ExternalError) Error() string {
	return e.Step.String() + ": " + e.Message
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

var fallbackMessages = map[Step]string{
	StepAccount: "Registration failed. Please try again.",
	StepPhone:   "Failed to send OTP. Please try again.",
	StepOTP:     "OTP verification failed. Please try again.",
}

// publicMessager is implemented by upstream errors whose message can be shown to the user.
type publicMessager interface {
	PublicMessage() string
}

func newExternalError(step Step, err error) *ExternalError {
	msg := fallbackMessages[step]
	var pm publicMessager
	if errors.As(err, &pm) {
		if m := strings.TrimSpace(pm.PublicMessage()); m != "" {
			msg = m
		}
	}
	return &ExternalError{Step: step, Message: msg, Err: err}
}
