// Package account signs marketplace users in and reads their profile.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var ErrInvalid = errors.New("invalid credentials")

var loginsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "account_logins_total",
		Help: "Login attempts proxied to the marketplace by outcome",
	},
	[]string{"outcome"},
)

// Collectors returns the metrics owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{loginsTotal}
}

type Credentials struct {
	Username string
	Password string
}

// Tokens is the access and refresh token pair the marketplace issues on login.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

type Profile struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Source is the marketplace's token and profile API.
type Source interface {
	Login(ctx context.Context, c Credentials) (Tokens, error)
	RefreshToken(ctx context.Context, refresh string) (access string, err error)
	Profile(ctx context.Context, token string) (Profile, error)
}

type Service struct {
	src    Source
	logger *slog.Logger
}

func NewService(src Source, logger *slog.Logger) *Service {
	return &Service{src: src, logger: logger}
}

func (s *Service) Login(ctx context.Context, c Credentials) (Tokens, error) {
	if strings.TrimSpace(c.Username) == "" || c.Password == "" {
		loginsTotal.WithLabelValues("invalid").Inc()
		return Tokens{}, fmt.Errorf("%w: username and password are required", ErrInvalid)
	}
	tokens, err := s.src.Login(ctx, c)
	if err != nil {
		loginsTotal.WithLabelValues("failed").Inc()
		return Tokens{}, fmt.Errorf("login: %w", err)
	}
	loginsTotal.WithLabelValues("ok").Inc()
	s.logger.InfoContext(ctx, "user logged in", "username", c.Username)
	return tokens, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refresh string) (Tokens, error) {
	if strings.TrimSpace(refresh) == "" {
		return Tokens{}, fmt.Errorf("%w: refresh token is required", ErrInvalid)
	}
	access, err := s.src.RefreshToken(ctx, refresh)
	if err != nil {
		return Tokens{}, fmt.Errorf("refresh token: %w", err)
	}
	return Tokens{Access: access}, nil
}

func (s *Service) Profile(ctx context.Context, token string) (Profile, error) {
	p, err := s.src.Profile(ctx, token)
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}
