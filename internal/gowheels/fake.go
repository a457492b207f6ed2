package gowheels

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/semanticallynull/gowheels/account"
	"github.com/semanticallynull/gowheels/bike"
	"github.com/semanticallynull/gowheels/registration"
)

// FakeClient is an in-memory stand-in for the marketplace API.
type FakeClient struct {
	mu sync.Mutex

	NextUserID int
	Accounts   map[string]registration.AccountInput // keyed by user id
	// Code is the OTP every issued phone number expects.
	Code     string
	Issued   map[string]bool   // phone numbers an OTP was sent to
	Verified map[string]string // user id -> phone number

	Bikes []map[string]any
	// Secret signs the access tokens the fake issues.
	Secret  string
	Tokens  map[string]string // access token -> user id
	Refresh map[string]string // refresh token -> user id

	// Err, when set for an operation name, is returned instead of performing it.
	Err   map[string]error
	Calls []string
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		NextUserID: 1,
		Accounts:   make(map[string]registration.AccountInput),
		Code:       "123456",
		Issued:     make(map[string]bool),
		Verified:   make(map[string]string),
		Secret:     "gowheels-fake-secret",
		Tokens:     make(map[string]string),
		Refresh:    make(map[string]string),
		Err:        make(map[string]error),
	}
}

func (f *FakeClient) called(op string) error {
	f.Calls = append(f.Calls, op)
	return f.Err[op]
}

func (f *FakeClient) CreateAccount(_ context.Context, in registration.AccountInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.called("CreateAccount"); err != nil {
		return "", err
	}
	for _, a := range f.Accounts {
		if a.Username == in.Username {
			return "", &APIError{
				Status:  http.StatusBadRequest,
				Message: "username: A user with that username already exists.",
				Fields:  map[string][]string{"username": {"A user with that username already exists."}},
			}
		}
	}
	id := strconv.Itoa(f.NextUserID)
	f.NextUserID++
	f.Accounts[id] = in
	return id, nil
}

func (f *FakeClient) IssueOTP(_ context.Context, phoneNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.called("IssueOTP"); err != nil {
		return err
	}
	f.Issued[phoneNumber] = true
	return nil
}

func (f *FakeClient) VerifyOTP(_ context.Context, phoneNumber, otp, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.called("VerifyOTP"); err != nil {
		return err
	}
	if !f.Issued[phoneNumber] || otp != f.Code {
		return &APIError{Status: http.StatusBadRequest, Message: "Invalid code"}
	}
	if _, ok := f.Accounts[userID]; !ok {
		return &APIError{Status: http.StatusNotFound, Message: "User not found"}
	}
	f.Verified[userID] = phoneNumber
	return nil
}

// IssueToken mints an access token for userID the way the marketplace's login does and accepts it
// from then on.
func (f *FakeClient) IssueToken(userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issue(userID)
}

func (f *FakeClient) issue(userID string) string {
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"token_type": "access",
		"exp":        now.Add(5 * time.Minute).Unix(),
		"iat":        now.Unix(),
		"jti":        uuid.NewString(),
		"user_id":    userIDValue(userID),
	}).SignedString([]byte(f.Secret))
	if err != nil {
		panic(err)
	}
	f.Tokens[token] = userID
	return token
}

func (f *FakeClient) Login(_ context.Context, in account.Credentials) (account.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.called("Login"); err != nil {
		return account.Tokens{}, err
	}
	for id, a := range f.Accounts {
		if a.Username == in.Username && a.Password == in.Password {
			refresh := uuid.NewString()
			f.Refresh[refresh] = id
			return account.Tokens{Access: f.issue(id), Refresh: refresh}, nil
		}
	}
	return account.Tokens{}, &APIError{Status: http.StatusUnauthorized, Message: "No active account found with the given credentials"}
}

func (f *FakeClient) RefreshToken(_ context.Context, refresh string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.called("RefreshToken"); err != nil {
		return "", err
	}
	id, ok := f.Refresh[refresh]
	if !ok {
		return "", &APIError{Status: http.StatusUnauthorized, Message: "Token is invalid or expired"}
	}
	return f.issue(id), nil
}

func (f *FakeClient) Profile(_ context.Context, token string) (account.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.called("Profile"); err != nil {
		return account.Profile{}, err
	}
	userID, err := f.user(token)
	if err != nil {
		return account.Profile{}, err
	}
	a := f.Accounts[userID]
	return account.Profile{
		ID:        userID,
		Username:  a.Username,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
	}, nil
}

func (f *FakeClient) ListBikes(_ context.Context) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.called("ListBikes"); err != nil {
		return nil, err
	}
	return append([]map[string]any(nil), f.Bikes...), nil
}

func (f *FakeClient) GetBike(_ context.Context, id string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.called("GetBike"); err != nil {
		return nil, err
	}
	if i := f.find(id); i >= 0 {
		return f.Bikes[i], nil
	}
	return nil, bike.ErrNotFound
}

func (f *FakeClient) MyBikes(_ context.Context, token string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.called("MyBikes"); err != nil {
		return nil, err
	}
	userID, err := f.user(token)
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for _, b := range f.Bikes {
		if bike.Normalize(b).OwnedBy(userID) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *FakeClient) CreateBike(_ context.Context, token string, in bike.NewBike) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.called("CreateBike"); err != nil {
		return nil, err
	}
	userID, err := f.user(token)
	if err != nil {
		return nil, err
	}
	b := map[string]any{
		"id":            len(f.Bikes) + 1,
		"title":         in.Title,
		"description":   in.Description,
		"bike_type":     string(in.Type),
		"price_per_day": in.PricePerDay,
		"location":      in.Location,
		"available":     in.Available,
		"owner_id":      userID,
	}
	if in.Image != nil {
		if _, err := io.Copy(io.Discard, in.Image.Content); err != nil {
			return nil, err
		}
		b["image"] = "/media/bikes/" + in.Image.Filename
	}
	f.Bikes = append(f.Bikes, b)
	return b, nil
}

func (f *FakeClient) DeleteBike(_ context.Context, token, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.called("DeleteBike"); err != nil {
		return err
	}
	userID, err := f.user(token)
	if err != nil {
		return err
	}
	i := f.find(id)
	if i < 0 {
		return bike.ErrNotFound
	}
	if !bike.Normalize(f.Bikes[i]).OwnedBy(userID) {
		return &APIError{Status: http.StatusForbidden, Message: "You do not have permission to perform this action."}
	}
	f.Bikes = append(f.Bikes[:i], f.Bikes[i+1:]...)
	return nil
}

func (f *FakeClient) find(id string) int {
	for i, b := range f.Bikes {
		if bike.FormatID(bike.Normalize(b).ID) == id {
			return i
		}
	}
	return -1
}

func (f *FakeClient) user(token string) (string, error) {
	if userID, ok := f.Tokens[token]; ok {
		return userID, nil
	}
	return "", &APIError{Status: http.StatusUnauthorized, Message: "Authentication credentials were not provided."}
}

// AddBike adds a raw bike record for testing
func (f *FakeClient) AddBike(b map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Bikes = append(f.Bikes, b)
}
