package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semanticallynull/gowheels/account"
	"github.com/semanticallynull/gowheels/bike"
	"github.com/semanticallynull/gowheels/internal/middleware"
	"github.com/semanticallynull/gowheels/internal/o11y"
	"github.com/semanticallynull/gowheels/registration"
)

type API struct {
	r    *gin.Engine
	rs   *registration.Service
	as   *account.Service
	bs   *bike.Service
	auth *middleware.Auth
}

func New(rs *registration.Service, as *account.Service, bs *bike.Service, obs *o11y.Observability, auth middleware.AuthConfig, metricsUsername, metricsPassword string) (*API, error) {
	am, err := middleware.NewAuth(auth)
	if err != nil {
		return nil, err
	}

	a := &API{
		r:    gin.New(),
		rs:   rs,
		as:   as,
		bs:   bs,
		auth: am,
	}

	// handlers pass *gin.Context down as the context; it must carry the request's span
	a.r.ContextWithFallback = true

	obs.Registry.MustRegister(registration.Collectors()...)
	obs.Registry.MustRegister(account.Collectors()...)
	obs.Registry.MustRegister(bike.Collectors()...)

	a.r.Use(
		gin.Recovery(),
		middleware.Tracing(),
		middleware.Logging(obs.Logger),
		middleware.Metrics(obs.Registry),
	)

	a.r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	metrics := []gin.HandlerFunc{gin.WrapH(promhttp.HandlerFor(obs.Registry, promhttp.HandlerOpts{}))}
	if metricsUsername != "" {
		metrics = append([]gin.HandlerFunc{gin.BasicAuth(gin.Accounts{metricsUsername: metricsPassword})}, metrics...)
	}
	a.r.GET("/metrics", metrics...)

	regs := a.r.Group("/registrations")
	{
		regs.POST("", a.startRegistrationHandler)
		regs.GET("/:id", a.getRegistrationHandler)
		regs.POST("/:id/account", a.submitAccountHandler)
		regs.POST("/:id/phone", a.submitPhoneHandler)
		regs.POST("/:id/otp", a.submitOTPHandler)
		regs.POST("/:id/back", a.backHandler)
	}

	a.r.POST("/auth/login", a.loginHandler)
	a.r.POST("/auth/refresh", a.refreshHandler)

	a.r.GET("/bikes", a.bikesHandler)
	a.r.GET("/bikes/:id", am.Optional(), a.bikeHandler)

	protected := a.r.Group("/")
	protected.Use(am.Required())
	{
		protected.GET("/me", a.profileHandler)
		protected.GET("/me/bikes", a.myBikesHandler)
		protected.POST("/bikes", a.createBikeHandler)
		protected.DELETE("/bikes/:id", a.deleteBikeHandler)
	}

	return a, nil
}

func (a *API) Router() *gin.Engine {
	return a.r
}
