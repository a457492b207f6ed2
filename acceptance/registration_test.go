package acceptance

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

type sessionResponse struct {
	ID      string `json:"id"`
	Step    string `json:"step"`
	Account struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"account"`
	UserID      string `json:"userId"`
	PhoneNumber string `json:"phoneNumber"`
	OTPCode     string `json:"otpCode"`
	Pending     bool   `json:"pending"`
	LastError   string `json:"lastError"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var aliceAccount = map[string]string{
	"username":  "alice",
	"email":     "alice@example.com",
	"password":  "correct-horse",
	"firstName": "Alice",
	"lastName":  "Smith",
}

func (ts *TestServer) startRegistration(t *testing.T) string {
	t.Helper()
	w := ts.POST("/registrations", nil, nil)
	expectStatus(t, w, http.StatusCreated)
	return decode[sessionResponse](t, w).ID
}

func TestRegistration_FullFlow(t *testing.T) {
	ts := NewTestServer(t)

	w := ts.POST("/registrations", nil, nil)
	expectStatus(t, w, http.StatusCreated)
	sess := decode[sessionResponse](t, w)
	if sess.Step != "account" || sess.Pending {
		t.Errorf("expected fresh session at account, got %+v", sess)
	}
	base := "/registrations/" + sess.ID

	w = ts.POST(base+"/account", aliceAccount, nil)
	expectStatus(t, w, http.StatusOK)
	sess = decode[sessionResponse](t, w)
	if sess.Step != "phone" || sess.UserID != "1" {
		t.Fatalf("expected phone step with user id 1, got %+v", sess)
	}
	if sess.Account.FirstName != "Alice" {
		t.Errorf("expected account details to be echoed, got %+v", sess.Account)
	}
	if ts.Upstream.Accounts["1"].Password != "correct-horse" {
		t.Errorf("expected password to reach the marketplace")
	}

	w = ts.POST(base+"/phone", map[string]string{"phoneNumber": "9876543210"}, nil)
	expectStatus(t, w, http.StatusOK)
	sess = decode[sessionResponse](t, w)
	if sess.Step != "otp" || sess.PhoneNumber != "9876543210" {
		t.Fatalf("expected otp step, got %+v", sess)
	}

	w = ts.POST(base+"/otp", map[string]string{"otp": "123456"}, nil)
	expectStatus(t, w, http.StatusOK)
	sess = decode[sessionResponse](t, w)
	if sess.Step != "complete" {
		t.Errorf("expected complete, got %+v", sess)
	}
	if ts.Upstream.Verified["1"] != "9876543210" {
		t.Errorf("expected phone to be verified upstream, got %v", ts.Upstream.Verified)
	}

	w = ts.GET(base, nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestRegistration_InvalidCodeKeepsOTPStep(t *testing.T) {
	ts := NewTestServer(t)
	base := "/registrations/" + ts.startRegistration(t)
	expectStatus(t, ts.POST(base+"/account", aliceAccount, nil), http.StatusOK)
	expectStatus(t, ts.POST(base+"/phone", map[string]string{"phoneNumber": "9876543210"}, nil), http.StatusOK)

	w := ts.POST(base+"/otp", map[string]string{"otp": "654321"}, nil)

	expectStatus(t, w, http.StatusBadGateway)
	sess := decode[sessionResponse](t, w)
	if sess.Step != "otp" || sess.LastError != "Invalid code" || sess.OTPCode != "654321" {
		t.Errorf("unexpected session %+v", sess)
	}
	if sess.Pending {
		t.Errorf("expected pending to be cleared")
	}

	// retry with the right code
	w = ts.POST(base+"/otp", map[string]string{"otp": "123456"}, nil)
	expectStatus(t, w, http.StatusOK)
	if s := decode[sessionResponse](t, w); s.Step != "complete" || s.LastError != "" {
		t.Errorf("unexpected session %+v", s)
	}
}

func TestRegistration_ValidationErrors(t *testing.T) {
	ts := NewTestServer(t)
	base := "/registrations/" + ts.startRegistration(t)

	incomplete := map[string]string{"username": "alice", "email": "alice@example.com"}
	w := ts.POST(base+"/account", incomplete, nil)
	expectStatus(t, w, http.StatusUnprocessableEntity)
	if s := decode[sessionResponse](t, w); s.LastError != "password is required" || s.Step != "account" {
		t.Errorf("unexpected session %+v", s)
	}
	if len(ts.Upstream.Calls) != 0 {
		t.Errorf("expected no marketplace calls, got %v", ts.Upstream.Calls)
	}

	expectStatus(t, ts.POST(base+"/account", aliceAccount, nil), http.StatusOK)

	w = ts.POST(base+"/phone", map[string]string{"phoneNumber": "12345"}, nil)
	expectStatus(t, w, http.StatusUnprocessableEntity)
	if s := decode[sessionResponse](t, w); s.LastError != "phone must be 10 digits" {
		t.Errorf("unexpected session %+v", s)
	}

	// the error stays visible until the next submission
	w = ts.GET(base, nil)
	expectStatus(t, w, http.StatusOK)
	if s := decode[sessionResponse](t, w); s.LastError != "phone must be 10 digits" {
		t.Errorf("expected last error to persist, got %+v", s)
	}
}

func TestRegistration_DuplicateUsername(t *testing.T) {
	ts := NewTestServer(t)
	first := "/registrations/" + ts.startRegistration(t)
	expectStatus(t, ts.POST(first+"/account", aliceAccount, nil), http.StatusOK)

	second := "/registrations/" + ts.startRegistration(t)
	w := ts.POST(second+"/account", aliceAccount, nil)

	expectStatus(t, w, http.StatusBadGateway)
	s := decode[sessionResponse](t, w)
	if s.LastError != "username: A user with that username already exists." {
		t.Errorf("unexpected last error %q", s.LastError)
	}
	if s.UserID != "" || s.Step != "account" {
		t.Errorf("expected to stay at account without user id, got %+v", s)
	}
}

func TestRegistration_OTPIssueFallbackMessage(t *testing.T) {
	ts := NewTestServer(t)
	ts.Upstream.Err["IssueOTP"] = errors.New("dial tcp: connection refused")
	base := "/registrations/" + ts.startRegistration(t)
	expectStatus(t, ts.POST(base+"/account", aliceAccount, nil), http.StatusOK)

	w := ts.POST(base+"/phone", map[string]string{"phoneNumber": "9876543210"}, nil)

	expectStatus(t, w, http.StatusBadGateway)
	if s := decode[sessionResponse](t, w); s.LastError != "Failed to send OTP. Please try again." || s.Step != "phone" {
		t.Errorf("unexpected session %+v", s)
	}
}

func TestRegistration_Back(t *testing.T) {
	ts := NewTestServer(t)
	base := "/registrations/" + ts.startRegistration(t)
	expectStatus(t, ts.POST(base+"/account", aliceAccount, nil), http.StatusOK)
	expectStatus(t, ts.POST(base+"/phone", map[string]string{"phoneNumber": "9876543210"}, nil), http.StatusOK)
	expectStatus(t, ts.POST(base+"/otp", map[string]string{"otp": "000000"}, nil), http.StatusBadGateway)

	w := ts.POST(base+"/back", nil, nil)
	expectStatus(t, w, http.StatusOK)
	s := decode[sessionResponse](t, w)
	if s.Step != "phone" || s.OTPCode != "" || s.PhoneNumber != "9876543210" || s.LastError != "" {
		t.Errorf("unexpected session after back from otp: %+v", s)
	}

	w = ts.POST(base+"/back", nil, nil)
	expectStatus(t, w, http.StatusOK)
	s = decode[sessionResponse](t, w)
	if s.Step != "account" || s.UserID != "" || s.PhoneNumber != "" {
		t.Errorf("unexpected session after back from phone: %+v", s)
	}

	w = ts.POST(base+"/back", nil, nil)
	expectStatus(t, w, http.StatusConflict)
	if e := decode[errorResponse](t, w); e.Code != "NO_PREVIOUS_STEP" {
		t.Errorf("unexpected error %+v", e)
	}
}

func TestRegistration_WrongStep(t *testing.T) {
	ts := NewTestServer(t)
	base := "/registrations/" + ts.startRegistration(t)

	w := ts.POST(base+"/otp", map[string]string{"otp": "123456"}, nil)

	expectStatus(t, w, http.StatusConflict)
	if e := decode[errorResponse](t, w); e.Code != "WRONG_STEP" {
		t.Errorf("unexpected error %+v", e)
	}
}

func TestRegistration_NotFound(t *testing.T) {
	ts := NewTestServer(t)

	for _, path := range []string{"/registrations/" + uuid.NewString(), "/registrations/not-a-uuid"} {
		w := ts.GET(path, nil)
		expectStatus(t, w, http.StatusNotFound)
		if e := decode[errorResponse](t, w); e.Code != "SESSION_NOT_FOUND" {
			t.Errorf("%s: unexpected error %+v", path, e)
		}
	}
}

func TestRegistration_MalformedBody(t *testing.T) {
	ts := NewTestServer(t)
	base := "/registrations/" + ts.startRegistration(t)

	w := ts.do(http.MethodPost, base+"/phone", nil, "application/json", nil)

	expectStatus(t, w, http.StatusBadRequest)
	if e := decode[errorResponse](t, w); e.Code != "INVALID_REQUEST" {
		t.Errorf("unexpected error %+v", e)
	}
}
