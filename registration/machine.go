package registration

import (
	"strings"
	"time"
)

// Attempt identifies one dispatched identity call. Completions are applied only while the session
// is still at the same step and attempt.
type Attempt struct {
	Step Step
	Seq  uint64
}

// BeginAccount validates the account form and marks the session pending.
func (s *Session) BeginAccount(in AccountInput) (Attempt, error) {
	if err := s.ready(StepAccount); err != nil {
		return Attempt{}, err
	}
	s.LastError = ""
	if err := validateAccount(in); err != nil {
		return Attempt{}, s.reject(err)
	}
	in.Password = ""
	s.Account = in
	return s.dispatch(), nil
}

// BeginPhone validates the phone number and marks the session pending.
func (s *Session) BeginPhone(phoneNumber string) (Attempt, error) {
	if err := s.ready(StepPhone); err != nil {
		return Attempt{}, err
	}
	s.LastError = ""
	if !digits(phoneNumber, 10) {
		return Attempt{}, s.reject(&ValidationError{Field: "phoneNumber", Message: "phone must be 10 digits"})
	}
	s.PhoneNumber = phoneNumber
	return s.dispatch(), nil
}

// BeginOTP validates the code and marks the session pending.
func (s *Session) BeginOTP(code string) (Attempt, error) {
	if err := s.ready(StepOTP); err != nil {
		return Attempt{}, err
	}
	s.LastError = ""
	if !digits(code, 6) {
		return Attempt{}, s.reject(&ValidationError{Field: "otp", Message: "otp must be 6 digits"})
	}
	if s.UserID == "" || !digits(s.PhoneNumber, 10) {
		return Attempt{}, ErrIncomplete
	}
	s.OTPCode = code
	return s.dispatch(), nil
}

// CompleteAccount applies the result of account creation.
func (s *Session) CompleteAccount(a Attempt, userID string, callErr error) error {
	if err := s.settle(a); err != nil {
		return err
	}
	if callErr == nil && userID == "" {
		callErr = errNoUserID
	}
	if callErr != nil {
		return s.fail(StepAccount, callErr)
	}
	s.UserID = userID
	s.advance(StepPhone)
	return nil
}

// CompletePhone applies the result of OTP issuance.
func (s *Session) CompletePhone(a Attempt, callErr error) error {
	if err := s.settle(a); err != nil {
		return err
	}
	if callErr != nil {
		return s.fail(StepPhone, callErr)
	}
	s.advance(StepOTP)
	return nil
}

// CompleteOTP applies the result of OTP verification.
func (s *Session) CompleteOTP(a Attempt, callErr error) error {
	if err := s.settle(a); err != nil {
		return err
	}
	if callErr != nil {
		return s.fail(StepOTP, callErr)
	}
	s.advance(StepComplete)
	return nil
}

// Back moves one step backwards, discarding what the current step collected. It is allowed while
// a call is pending; the outstanding attempt is invalidated instead.
func (s *Session) Back() error {
	switch s.Step {
	case StepPhone:
		s.PhoneNumber = ""
		s.UserID = ""
		s.Step = StepAccount
	case StepOTP:
		s.OTPCode = ""
		s.Step = StepPhone
	default:
		return ErrNoPreviousStep
	}
	s.Pending = false
	s.LastError = ""
	s.Attempt++
	s.touch()
	return nil
}

// Abandon clears a pending call whose result was never applied once limit has passed since it was
// dispatched, as happens when the process stops before recording it. The attempt is invalidated so
// a result arriving later is discarded. It reports whether the session changed.
func (s *Session) Abandon(limit time.Duration, now time.Time) bool {
	if !s.Pending || now.Sub(s.UpdatedAt) < limit {
		return false
	}
	s.Pending = false
	s.Attempt++
	s.LastError = fallbackMessages[s.Step]
	s.touch()
	return true
}

func (s *Session) ready(step Step) error {
	if s.Step != step {
		return ErrWrongStep
	}
	if s.Pending {
		return ErrPending
	}
	return nil
}

func (s *Session) reject(err *ValidationError) error {
	s.LastError = err.Message
	s.touch()
	return err
}

func (s *Session) dispatch() Attempt {
	s.Pending = true
	s.Attempt++
	s.touch()
	return Attempt{Step: s.Step, Seq: s.Attempt}
}

func (s *Session) settle(a Attempt) error {
	if !s.Pending || s.Step != a.Step || s.Attempt != a.Seq {
		return ErrStaleAttempt
	}
	s.Pending = false
	s.touch()
	return nil
}

func (s *Session) fail(step Step, err error) error {
	xerr := newExternalError(step, err)
	s.LastError = xerr.Message
	return xerr
}

func (s *Session) advance(to Step) {
	s.Step = to
	s.LastError = ""
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}

func validateAccount(in AccountInput) *ValidationError {
	switch {
	case strings.TrimSpace(in.Username) == "":
		return &ValidationError{Field: "username", Message: "username is required"}
	case strings.TrimSpace(in.Email) == "":
		return &ValidationError{Field: "email", Message: "email is required"}
	case in.Password == "":
		return &ValidationError{Field: "password", Message: "password is required"}
	}
	return nil
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
