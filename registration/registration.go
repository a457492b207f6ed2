// Package registration implements the sign-up wizard: account creation, phone capture and OTP
// verification against the marketplace's identity service.
package registration

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Step is a stage of the wizard.
type Step int

const (
	StepAccount Step = iota
	StepPhone
	StepOTP
	// StepComplete is reported once the OTP is verified. Completed sessions are not kept.
	StepComplete
)

var stepNames = [...]string{"account", "phone", "otp", "complete"}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

func ParseStep(name string) (Step, error) {
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return 0, fmt.Errorf("unknown registration step %q", name)
}

func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Step) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseStep(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s *Step) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseStep(v)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	case []byte:
		return s.Scan(string(v))
	}
	return fmt.Errorf("cannot scan %T into registration step", src)
}

func (s Step) Value() (driver.Value, error) {
	return s.String(), nil
}

// AccountInput is what the first step of the wizard collects.
type AccountInput struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Session is one registration attempt. It is owned by a single caller and kept in a Store between
// requests.
type Session struct {
	ID   uuid.UUID `json:"id"`
	Step Step      `json:"step"`

	// Account never holds the password; it is only passed through to the identity service.
	Account AccountInput `json:"account"`
	// UserID is set by the identity service once the account exists, and only then.
	UserID      string `json:"user_id,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	OTPCode     string `json:"otp_code,omitempty"`

	Pending   bool   `json:"pending"`
	LastError string `json:"last_error,omitempty"`
	// Attempt increases on every dispatch and every back move. A completion carrying an older
	// value is discarded.
	Attempt uint64 `json:"attempt"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewSession() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New(),
		Step:      StepAccount,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Identity is the marketplace's account and OTP service.
type Identity interface {
	CreateAccount(ctx context.Context, in AccountInput) (userID string, err error)
	IssueOTP(ctx context.Context, phoneNumber string) error
	VerifyOTP(ctx context.Context, phoneNumber, otp, userID string) error
}

// Store keeps sessions between requests. Update must apply fn atomically with respect to other
// Updates of the same session and persist the result only when fn returns nil.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*Session) error) (*Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
