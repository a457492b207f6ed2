package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/gowheels/account"
	"github.com/semanticallynull/gowheels/internal/middleware"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (a *API) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	tokens, err := a.as.Login(c, account.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		a.accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (a *API) refreshHandler(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	tokens, err := a.as.Refresh(c, req.Refresh)
	if err != nil {
		a.accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (a *API) profileHandler(c *gin.Context) {
	p, err := a.as.Profile(c, middleware.GetToken(c))
	if err != nil {
		a.accountError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (a *API) accountError(c *gin.Context, err error) {
	var ue upstreamError
	switch {
	case errors.Is(err, account.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
	case errors.As(err, &ue) && ue.StatusCode() == http.StatusUnauthorized:
		c.JSON(http.StatusUnauthorized, gin.H{"code": "INVALID_CREDENTIALS", "message": ue.PublicMessage()})
	case errors.As(err, &ue) && ue.StatusCode() >= 400 && ue.StatusCode() < 500:
		c.JSON(ue.StatusCode(), gin.H{"code": "UPSTREAM_REJECTED", "message": ue.PublicMessage()})
	default:
		middleware.GetLogger(c).ErrorContext(c, "account request failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "marketplace unavailable"})
	}
}
