package gowheels

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/semanticallynull/gowheels/account"
	"github.com/semanticallynull/gowheels/bike"
	"github.com/semanticallynull/gowheels/registration"
)

var ErrUnexpectedResponse = errors.New("unexpected response from gowheels api")

// APIError is a non-2xx answer from the marketplace API.
type APIError struct {
	Status  int
	Message string
	// Fields holds per-field validation messages, when the API sent any.
	Fields map[string][]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gowheels api: status %d", e.Status)
	}
	return fmt.Sprintf("gowheels api: status %d: %s", e.Status, e.Message)
}

// PublicMessage is the human-readable message from the error payload, if any.
func (e *APIError) PublicMessage() string {
	return e.Message
}

func (e *APIError) StatusCode() int {
	return e.Status
}

// Client talks to the marketplace REST API. It implements registration.Identity, account.Source
// and bike.Source.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tracer: otel.Tracer("gowheels-client"),
	}
}

type request struct {
	method      string
	path        string
	token       string
	body        io.Reader
	contentType string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	ctx, span := c.tracer.Start(ctx, r.method+" "+r.path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	span.SetAttributes(
		attribute.String("http.method", r.method),
		attribute.String("http.url", req.URL.String()),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		span.SetStatus(codes.Error, apiErr.Error())
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := jsonBody(in)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		body:        body,
		contentType: "application/json",
	}, out)
}

type registerResponse struct {
	User struct {
		ID any `json:"id"`
	} `json:"user"`
	ID     any `json:"id"`
	UserID any `json:"user_id"`
}

func (c *Client) CreateAccount(ctx context.Context, in registration.AccountInput) (string, error) {
	var resp registerResponse
	if err := c.postJSON(ctx, "/auth/register/", in, &resp); err != nil {
		return "", err
	}
	for _, v := range []any{resp.User.ID, resp.ID, resp.UserID} {
		if id := bike.FormatID(v); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: register response has no user id", ErrUnexpectedResponse)
}

func (c *Client) IssueOTP(ctx context.Context, phoneNumber string) error {
	return c.postJSON(ctx, "/send-otp/", map[string]string{"phone_number": phoneNumber}, nil)
}

func (c *Client) VerifyOTP(ctx context.Context, phoneNumber, otp, userID string) error {
	body := map[string]any{
		"phone_number": phoneNumber,
		"otp":          otp,
		"user_id":      userIDValue(userID),
	}
	return c.postJSON(ctx, "/verify-otp/", body, nil)
}

// userIDValue sends numeric ids as JSON numbers, which is what the API issued them as.
func userIDValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

func (c *Client) Login(ctx context.Context, in account.Credentials) (account.Tokens, error) {
	var tokens account.Tokens
	body := map[string]string{"username": in.Username, "password": in.Password}
	if err := c.postJSON(ctx, "/auth/login/", body, &tokens); err != nil {
		return account.Tokens{}, err
	}
	if tokens.Access == "" {
		return account.Tokens{}, fmt.Errorf("%w: login response has no access token", ErrUnexpectedResponse)
	}
	return tokens, nil
}

func (c *Client) RefreshToken(ctx context.Context, refresh string) (string, error) {
	var tokens account.Tokens
	if err := c.postJSON(ctx, "/auth/token/refresh/", map[string]string{"refresh": refresh}, &tokens); err != nil {
		return "", err
	}
	if tokens.Access == "" {
		return "", fmt.Errorf("%w: refresh response has no access token", ErrUnexpectedResponse)
	}
	return tokens.Access, nil
}

type profileResponse struct {
	ID        any    `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (c *Client) Profile(ctx context.Context, token string) (account.Profile, error) {
	var resp profileResponse
	if err := c.do(ctx, request{method: http.MethodGet, path: "/auth/profile/", token: token}, &resp); err != nil {
		return account.Profile{}, err
	}
	return account.Profile{
		ID:        bike.FormatID(resp.ID),
		Username:  resp.Username,
		Email:     resp.Email,
		FirstName: resp.FirstName,
		LastName:  resp.LastName,
	}, nil
}

func (c *Client) ListBikes(ctx context.Context) ([]map[string]any, error) {
	return c.getList(ctx, "/bikes/", "")
}

func (c *Client) GetBike(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, request{method: http.MethodGet, path: "/bikes/" + url.PathEscape(id) + "/"}, &out)
	if err != nil {
		return nil, notFound(err)
	}
	return out, nil
}

func (c *Client) MyBikes(ctx context.Context, token string) ([]map[string]any, error) {
	return c.getList(ctx, "/bikes/my_bikes/", token)
}

func (c *Client) CreateBike(ctx context.Context, token string, in bike.NewBike) (map[string]any, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"title", in.Title},
		{"description", in.Description},
		{"bike_type", string(in.Type)},
		{"price_per_day", in.PricePerDay},
		{"location", in.Location},
		{"available", strconv.FormatBool(in.Available)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	if in.Image != nil {
		part, err := w.CreateFormFile("image", in.Image.Filename)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, in.Image.Content); err != nil {
			return nil, fmt.Errorf("read bike image: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var out map[string]any
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/bikes/",
		token:       token,
		body:        &buf,
		contentType: w.FormDataContentType(),
	}, &out)
	return out, err
}

func (c *Client) DeleteBike(ctx context.Context, token, id string) error {
	err := c.do(ctx, request{method: http.MethodDelete, path: "/bikes/" + url.PathEscape(id) + "/", token: token}, nil)
	return notFound(err)
}

// getList accepts both a bare array and a paginated {"results": [...]} envelope.
func (c *Client) getList(ctx context.Context, path, token string) ([]map[string]any, error) {
	var out any
	if err := c.do(ctx, request{method: http.MethodGet, path: path, token: token}, &out); err != nil {
		return nil, err
	}
	items, ok := out.([]any)
	if !ok {
		page, isPage := out.(map[string]any)
		if !isPage {
			return nil, fmt.Errorf("%w: bike list is %T", ErrUnexpectedResponse, out)
		}
		if items, ok = page["results"].([]any); !ok {
			return nil, fmt.Errorf("%w: bike list has no results", ErrUnexpectedResponse)
		}
	}

	bikes := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			bikes = append(bikes, m)
		}
	}
	return bikes, nil
}

func notFound(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %w", bike.ErrNotFound, err)
	}
	return err
}

// decodeError pulls a message out of an error payload. It understands {"error": ...},
// {"detail": ...}, {"message": ...} and field error maps such as {"username": ["taken"]}.
func decodeError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || len(bytes.TrimSpace(b)) == 0 {
		return apiErr
	}

	var payload any
	if err := json.Unmarshal(b, &payload); err != nil {
		return apiErr
	}

	switch p := payload.(type) {
	case map[string]any:
		for _, k := range []string{"error", "detail", "message"} {
			if s, ok := p[k].(string); ok && s != "" {
				apiErr.Message = s
				return apiErr
			}
		}
		apiErr.Fields = fieldErrors(p)
		apiErr.Message = firstFieldError(apiErr.Fields)
	case []any:
		if msgs := strs(p); len(msgs) > 0 {
			apiErr.Message = msgs[0]
		}
	case string:
		apiErr.Message = p
	}
	return apiErr
}

func fieldErrors(p map[string]any) map[string][]string {
	fields := make(map[string][]string)
	for k, v := range p {
		switch msgs := v.(type) {
		case string:
			fields[k] = []string{msgs}
		case []any:
			if s := strs(msgs); len(s) > 0 {
				fields[k] = s
			}
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func firstFieldError(fields map[string][]string) string {
	if msgs := fields["non_field_errors"]; len(msgs) > 0 {
		return msgs[0]
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(fields[k]) > 0 {
			return k + ": " + fields[k][0]
		}
	}
	return ""
}

func strs(items []any) []string {
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
