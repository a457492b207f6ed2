package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	jwtmiddleware "github.com/auth0/go-jwt-middleware/v2"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	adapter "github.com/gwatts/gin-adapter"

	"github.com/semanticallynull/gowheels/bike"
)

// AuthConfig describes the access tokens the marketplace API issues (HS256, shared secret).
// Issuer and Audience are only checked when set; the marketplace's tokens carry neither by default.
type AuthConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

const clockSkew = time.Minute

// Claims are the custom claims of a marketplace access token.
type Claims struct {
	UserID any `json:"user_id"`
}

func (c *Claims) Validate(context.Context) error {
	if bike.FormatID(c.UserID) == "" {
		return errors.New("token has no user_id claim")
	}
	return nil
}

// Auth holds the validating middlewares for protected and public routes.
type Auth struct {
	required gin.HandlerFunc
	optional gin.HandlerFunc
}

func NewAuth(cfg AuthConfig) (*Auth, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	validate := marketplaceValidator(cfg)
	if cfg.Issuer != "" && cfg.Audience != "" {
		keyFunc := func(context.Context) (interface{}, error) {
			return []byte(cfg.Secret), nil
		}
		v, err := validator.New(
			keyFunc,
			validator.HS256,
			cfg.Issuer,
			[]string{cfg.Audience},
			validator.WithCustomClaims(func() validator.CustomClaims { return &Claims{} }),
			validator.WithAllowedClockSkew(clockSkew),
		)
		if err != nil {
			return nil, err
		}
		validate = v.ValidateToken
	}

	required := jwtmiddleware.New(validate, jwtmiddleware.WithErrorHandler(unauthorized))
	optional := jwtmiddleware.New(validate,
		jwtmiddleware.WithErrorHandler(unauthorized),
		jwtmiddleware.WithCredentialsOptional(true),
	)

	return &Auth{
		required: adapter.Wrap(required.CheckJWT),
		optional: adapter.Wrap(optional.CheckJWT),
	}, nil
}

// tokenClaims is the payload of a marketplace access token: user_id plus the registered claims.
type tokenClaims struct {
	Claims
	jwt.RegisteredClaims
}

// marketplaceValidator checks tokens the way the marketplace issues them: HS256 with an expiry and a
// user_id, iss and aud only when configured. The result has the same shape the auth0 validator
// produces, so GetUserID works with either.
func marketplaceValidator(cfg AuthConfig) jwtmiddleware.ValidateToken {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	secret := []byte(cfg.Secret)

	return func(ctx context.Context, token string) (interface{}, error) {
		var claims tokenClaims
		_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil {
			return nil, err
		}
		if err := claims.Claims.Validate(ctx); err != nil {
			return nil, err
		}
		return &validator.ValidatedClaims{
			CustomClaims: &claims.Claims,
			RegisteredClaims: validator.RegisteredClaims{
				Subject: claims.Subject,
				ID:      claims.ID,
			},
		}, nil
	}
}

// Required rejects requests without a valid bearer token.
func (a *Auth) Required() gin.HandlerFunc {
	return a.required
}

// Optional lets anonymous requests through but still rejects invalid tokens.
func (a *Auth) Optional() gin.HandlerFunc {
	return a.optional
}

func unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	slog.DebugContext(r.Context(), "rejected access token", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","message":"Authentication required"}`))
}

// GetUserID extracts the marketplace user id from the validated token in the Gin context.
func GetUserID(c *gin.Context) (string, bool) {
	claims, ok := c.Request.Context().Value(jwtmiddleware.ContextKey{}).(*validator.ValidatedClaims)
	if !ok {
		return "", false
	}
	custom, ok := claims.CustomClaims.(*Claims)
	if !ok {
		return "", false
	}
	id := bike.FormatID(custom.UserID)
	return id, id != ""
}

// GetToken returns the raw bearer token so it can be forwarded to the marketplace API.
func GetToken(c *gin.Context) string {
	token, err := jwtmiddleware.AuthHeaderTokenExtractor(c.Request)
	if err != nil {
		return ""
	}
	return token
}
