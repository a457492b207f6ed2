package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/gowheels/bike"
	"github.com/semanticallynull/gowheels/internal/middleware"
)

type bikeDetailResponse struct {
	bike.Canonical
	IsOwner bool `json:"isOwner"`
}

// upstreamError is implemented by marketplace API errors.
type upstreamError interface {
	StatusCode() int
	PublicMessage() string
}

func (a *API) bikesHandler(c *gin.Context) {
	bikes, err := a.bs.List(c)
	if err != nil {
		a.bikeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bikes)
}

func (a *API) bikeHandler(c *gin.Context) {
	b, err := a.bs.Get(c, c.Param("id"))
	if err != nil {
		a.bikeError(c, err)
		return
	}

	resp := bikeDetailResponse{Canonical: b}
	if userID, ok := middleware.GetUserID(c); ok {
		resp.IsOwner = b.OwnedBy(userID)
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) myBikesHandler(c *gin.Context) {
	bikes, err := a.bs.Mine(c, middleware.GetToken(c))
	if err != nil {
		a.bikeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bikes)
}

func (a *API) createBikeHandler(c *gin.Context) {
	available, err := strconv.ParseBool(c.DefaultPostForm("available", "true"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": "available must be true or false"})
		return
	}

	in := bike.NewBike{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Type:        bike.Type(c.DefaultPostForm("bike_type", string(bike.Mountain))),
		PricePerDay: c.PostForm("price_per_day"),
		Location:    c.PostForm("location"),
		Available:   available,
	}

	fh, err := c.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	default:
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
			return
		}
		defer f.Close()
		in.Image = &bike.Image{Filename: fh.Filename, Content: f}
	}

	b, err := a.bs.Create(c, middleware.GetToken(c), in)
	if err != nil {
		a.bikeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (a *API) deleteBikeHandler(c *gin.Context) {
	if err := a.bs.Delete(c, middleware.GetToken(c), c.Param("id")); err != nil {
		a.bikeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) bikeError(c *gin.Context, err error) {
	var ue upstreamError
	switch {
	case errors.Is(err, bike.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "BIKE_NOT_FOUND", "message": "Bike not found"})
	case errors.Is(err, bike.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_BIKE", "message": err.Error()})
	case errors.As(err, &ue) && ue.StatusCode() >= 400 && ue.StatusCode() < 500:
		c.JSON(ue.StatusCode(), gin.H{"code": "UPSTREAM_REJECTED", "message": ue.PublicMessage()})
	default:
		middleware.GetLogger(c).ErrorContext(c, "bike request failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "marketplace unavailable"})
	}
}
