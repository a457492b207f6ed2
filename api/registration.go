package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semanticallynull/gowheels/internal/middleware"
	"github.com/semanticallynull/gowheels/registration"
)

type accountResponse struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type sessionResponse struct {
	ID          uuid.UUID         `json:"id"`
	Step        registration.Step `json:"step"`
	Account     accountResponse   `json:"account"`
	UserID      string            `json:"userId,omitempty"`
	PhoneNumber string            `json:"phoneNumber,omitempty"`
	OTPCode     string            `json:"otpCode,omitempty"`
	Pending     bool              `json:"pending"`
	LastError   string            `json:"lastError,omitempty"`
}

func toSessionResponse(s *registration.Session) sessionResponse {
	return sessionResponse{
		ID:   s.ID,
		Step: s.Step,
		Account: accountResponse{
			Username:  s.Account.Username,
			Email:     s.Account.Email,
			FirstName: s.Account.FirstName,
			LastName:  s.Account.LastName,
		},
		UserID:      s.UserID,
		PhoneNumber: s.PhoneNumber,
		OTPCode:     s.OTPCode,
		Pending:     s.Pending,
		LastError:   s.LastError,
	}
}

type accountRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type phoneRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type otpRequest struct {
	OTP string `json:"otp"`
}

func (a *API) startRegistrationHandler(c *gin.Context) {
	s, err := a.rs.Start(c)
	if err != nil {
		a.registrationError(c, nil, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(s))
}

func (a *API) getRegistrationHandler(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := a.rs.Get(c, id)
	if err != nil {
		a.registrationError(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(s))
}

func (a *API) submitAccountHandler(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	s, err := a.rs.SubmitAccount(c, id, registration.AccountInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		a.registrationError(c, s, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(s))
}

func (a *API) submitPhoneHandler(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	s, err := a.rs.SubmitPhone(c, id, req.PhoneNumber)
	if err != nil {
		a.registrationError(c, s, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(s))
}

func (a *API) submitOTPHandler(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	s, err := a.rs.SubmitOTP(c, id, req.OTP)
	if err != nil {
		a.registrationError(c, s, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(s))
}

func (a *API) backHandler(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	s, err := a.rs.Back(c, id)
	if err != nil {
		a.registrationError(c, s, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(s))
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "SESSION_NOT_FOUND", "message": "Registration session not found"})
		return uuid.Nil, false
	}
	return id, true
}

// registrationError answers a failed wizard operation. Validation and identity service failures
// carry the session so the client can show LastError on the current step.
func (a *API) registrationError(c *gin.Context, s *registration.Session, err error) {
	var (
		verr *registration.ValidationError
		xerr *registration.ExternalError
	)
	switch {
	case errors.As(err, &verr) && s != nil:
		c.JSON(http.StatusUnprocessableEntity, toSessionResponse(s))
	case errors.As(err, &xerr) && s != nil:
		c.JSON(http.StatusBadGateway, toSessionResponse(s))
	case errors.Is(err, registration.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "SESSION_NOT_FOUND", "message": "Registration session not found"})
	case errors.Is(err, registration.ErrPending):
		c.JSON(http.StatusConflict, gin.H{"code": "REQUEST_PENDING", "message": err.Error()})
	case errors.Is(err, registration.ErrWrongStep):
		c.JSON(http.StatusConflict, gin.H{"code": "WRONG_STEP", "message": err.Error()})
	case errors.Is(err, registration.ErrStaleAttempt):
		c.JSON(http.StatusConflict, gin.H{"code": "STALE_ATTEMPT", "message": err.Error()})
	case errors.Is(err, registration.ErrNoPreviousStep):
		c.JSON(http.StatusConflict, gin.H{"code": "NO_PREVIOUS_STEP", "message": err.Error()})
	case errors.Is(err, registration.ErrIncomplete):
		c.JSON(http.StatusConflict, gin.H{"code": "INCOMPLETE_SESSION", "message": err.Error()})
	default:
		middleware.GetLogger(c).ErrorContext(c, "registration failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
