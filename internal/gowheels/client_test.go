package gowheels

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/semanticallynull/gowheels/account"
	"github.com/semanticallynull/gowheels/bike"
	"github.com/semanticallynull/gowheels/registration"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

// newTestClient serves every request with handler and records what the client sent.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]recorded) {
	t.Helper()
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		reqs = append(reqs, rec)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/api/"), &reqs
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func TestCreateAccount(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"nested user", `{"user": {"id": 101, "username": "alice"}, "token": "x"}`, "101"},
		{"top-level id", `{"id": "u-7"}`, "u-7"},
		{"user_id", `{"user_id": 5}`, "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, reqs := newTestClient(t, respond(http.StatusCreated, tt.body))

			id, err := c.CreateAccount(context.Background(), registration.AccountInput{
				Username:  "alice",
				Email:     "alice@example.com",
				Password:  "pw",
				FirstName: "Alice",
				LastName:  "Smith",
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tt.expected {
				t.Errorf("expected user id %q, got %q", tt.expected, id)
			}

			r := (*reqs)[0]
			if r.method != http.MethodPost || r.path != "/api/auth/register/" {
				t.Errorf("unexpected request %s %s", r.method, r.path)
			}
			if r.body["password"] != "pw" || r.body["first_name"] != "Alice" || r.body["last_name"] != "Smith" {
				t.Errorf("unexpected body %v", r.body)
			}
		})
	}
}

func TestCreateAccount_NoUserID(t *testing.T) {
	c, _ := newTestClient(t, respond(http.StatusCreated, `{"token": "x"}`))

	_, err := c.CreateAccount(context.Background(), registration.AccountInput{Username: "a"})

	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("expected ErrUnexpectedResponse, got %v", err)
	}
}

func TestOTP(t *testing.T) {
	c, reqs := newTestClient(t, respond(http.StatusOK, `{"message": "OTP sent"}`))
	ctx := context.Background()

	if err := c.IssueOTP(ctx, "9876543210"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.VerifyOTP(ctx, "9876543210", "123456", "101"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	send, verify := (*reqs)[0], (*reqs)[1]
	if send.path != "/api/send-otp/" || send.body["phone_number"] != "9876543210" {
		t.Errorf("unexpected send request %s %v", send.path, send.body)
	}
	if verify.path != "/api/verify-otp/" || verify.body["otp"] != "123456" {
		t.Errorf("unexpected verify request %s %v", verify.path, verify.body)
	}
	// numeric ids go back as numbers
	if _, ok := verify.body["user_id"].(float64); !ok {
		t.Errorf("expected numeric user_id, got %T", verify.body["user_id"])
	}
}

func TestErrorPayloads(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected string
	}{
		{"error field", http.StatusBadRequest, `{"error": "Invalid code"}`, "Invalid code"},
		{"detail field", http.StatusUnauthorized, `{"detail": "Token expired"}`, "Token expired"},
		{"message field", http.StatusBadRequest, `{"message": "OTP expired"}`, "OTP expired"},
		{"field errors", http.StatusBadRequest, `{"username": ["A user with that username already exists."], "email": ["Enter a valid email address."]}`, "email: Enter a valid email address."},
		{"non field errors win", http.StatusBadRequest, `{"non_field_errors": ["Passwords do not match"], "email": ["bad"]}`, "Passwords do not match"},
		{"list", http.StatusBadRequest, `["Something went wrong"]`, "Something went wrong"},
		{"empty body", http.StatusInternalServerError, ``, ""},
		{"html body", http.StatusBadGateway, `<html>bad gateway</html>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, respond(tt.status, tt.body))

			err := c.IssueOTP(context.Background(), "9876543210")

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode() != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, apiErr.StatusCode())
			}
			if apiErr.PublicMessage() != tt.expected {
				t.Errorf("expected message %q, got %q", tt.expected, apiErr.PublicMessage())
			}
		})
	}
}

func TestListBikes(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bare array", `[{"id": 1, "title": "Trek"}, {"id": 2, "title": "Giant"}]`},
		{"paginated", `{"count": 2, "next": null, "results": [{"id": 1, "title": "Trek"}, {"id": 2, "title": "Giant"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, reqs := newTestClient(t, respond(http.StatusOK, tt.body))

			bikes, err := c.ListBikes(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(bikes) != 2 || bikes[1]["title"] != "Giant" {
				t.Errorf("unexpected bikes %v", bikes)
			}
			if (*reqs)[0].path != "/api/bikes/" {
				t.Errorf("unexpected path %s", (*reqs)[0].path)
			}
			if bike.FormatID(bikes[0]["id"]) != "1" {
				t.Errorf("expected id to decode as a number, got %T", bikes[0]["id"])
			}
		})
	}
}

func TestListBikes_UnexpectedShape(t *testing.T) {
	c, _ := newTestClient(t, respond(http.StatusOK, `{"bikes": []}`))

	_, err := c.ListBikes(context.Background())

	if !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("expected ErrUnexpectedResponse, got %v", err)
	}
}

func TestGetBike_NotFound(t *testing.T) {
	c, reqs := newTestClient(t, respond(http.StatusNotFound, `{"detail": "Not found."}`))

	_, err := c.GetBike(context.Background(), "42")

	if !errors.Is(err, bike.ErrNotFound) {
		t.Errorf("expected bike.ErrNotFound, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("expected the API error to be kept")
	}
	if (*reqs)[0].path != "/api/bikes/42/" {
		t.Errorf("unexpected path %s", (*reqs)[0].path)
	}
}

func TestMyBikes_ForwardsToken(t *testing.T) {
	c, reqs := newTestClient(t, respond(http.StatusOK, `[]`))

	bikes, err := c.MyBikes(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bikes) != 0 {
		t.Errorf("expected no bikes, got %d", len(bikes))
	}
	r := (*reqs)[0]
	if r.path != "/api/bikes/my_bikes/" || r.auth != "Bearer tok" {
		t.Errorf("unexpected request %s auth=%q", r.path, r.auth)
	}
}

func TestCreateBike_Multipart(t *testing.T) {
	var (
		fields   = map[string]string{}
		filename string
		content  string
	)
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("expected multipart body: %v", err)
		}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f, fh, err := r.FormFile("image")
		if err == nil {
			filename = fh.Filename
			b, _ := io.ReadAll(f)
			content = string(b)
		}
		respond(http.StatusCreated, `{"id": 9, "title": "Trek", "price_per_day": "12.50"}`)(w, r)
	})

	out, err := c.CreateBike(context.Background(), "tok", bike.NewBike{
		Title:       "Trek",
		Description: "Light",
		Type:        bike.Road,
		PricePerDay: "12.50",
		Location:    "Kigali",
		Available:   false,
		Image:       &bike.Image{Filename: "trek.jpg", Content: strings.NewReader("jpeg-bytes")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if bike.FormatID(out["id"]) != "9" {
		t.Errorf("unexpected response %v", out)
	}
	if (*reqs)[0].method != http.MethodPost || (*reqs)[0].auth != "Bearer tok" {
		t.Errorf("unexpected request %+v", (*reqs)[0])
	}
	expected := map[string]string{
		"title":         "Trek",
		"description":   "Light",
		"bike_type":     "road",
		"price_per_day": "12.50",
		"location":      "Kigali",
		"available":     "false",
	}
	for k, v := range expected {
		if fields[k] != v {
			t.Errorf("field %s: expected %q, got %q", k, v, fields[k])
		}
	}
	if filename != "trek.jpg" || content != "jpeg-bytes" {
		t.Errorf("unexpected image %q %q", filename, content)
	}
}

func TestDeleteBike(t *testing.T) {
	c, reqs := newTestClient(t, respond(http.StatusNoContent, ``))

	if err := c.DeleteBike(context.Background(), "tok", "3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := (*reqs)[0]
	if r.method != http.MethodDelete || r.path != "/api/bikes/3/" || r.auth != "Bearer tok" {
		t.Errorf("unexpected request %+v", r)
	}
}

func TestTransportError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")

	err := c.IssueOTP(context.Background(), "9876543210")

	var apiErr *APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("expected a transport error, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	c, reqs := newTestClient(t, respond(http.StatusOK, `{"access": "acc", "refresh": "ref"}`))

	tokens, err := c.Login(context.Background(), account.Credentials{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tokens != (account.Tokens{Access: "acc", Refresh: "ref"}) {
		t.Errorf("unexpected tokens %+v", tokens)
	}
	r := (*reqs)[0]
	if r.method != http.MethodPost || r.path != "/api/auth/login/" {
		t.Errorf("unexpected request %s %s", r.method, r.path)
	}
	if r.body["username"] != "alice" || r.body["password"] != "pw" {
		t.Errorf("unexpected body %v", r.body)
	}
}

func TestLogin_Rejected(t *testing.T) {
	c, _ := newTestClient(t, respond(http.StatusUnauthorized, `{"detail": "No active account found with the given credentials"}`))

	_, err := c.Login(context.Background(), account.Credentials{Username: "alice", Password: "nope"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 api error, got %v", err)
	}
	if apiErr.Message != "No active account found with the given credentials" {
		t.Errorf("unexpected message %q", apiErr.Message)
	}
}

func TestRefreshToken(t *testing.T) {
	c, reqs := newTestClient(t, respond(http.StatusOK, `{"access": "fresh"}`))

	access, err := c.RefreshToken(context.Background(), "ref")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if access != "fresh" {
		t.Errorf("expected fresh, got %q", access)
	}
	r := (*reqs)[0]
	if r.path != "/api/auth/token/refresh/" || r.body["refresh"] != "ref" {
		t.Errorf("unexpected request %s %v", r.path, r.body)
	}
}

func TestProfile(t *testing.T) {
	body := `{"id": 7, "username": "alice", "email": "alice@example.com", "first_name": "Alice", "last_name": "Smith"}`
	c, reqs := newTestClient(t, respond(http.StatusOK, body))

	p, err := c.Profile(context.Background(), "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := account.Profile{ID: "7", Username: "alice", Email: "alice@example.com", FirstName: "Alice", LastName: "Smith"}
	if p != expected {
		t.Errorf("expected %+v, got %+v", expected, p)
	}
	r := (*reqs)[0]
	if r.path != "/api/auth/profile/" || r.auth != "Bearer tok" {
		t.Errorf("unexpected request %s auth=%q", r.path, r.auth)
	}
}
