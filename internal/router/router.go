package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/user-auth-service/internal/handler"
	"github.com/iliyamo/user-auth-service/internal/middleware"
	"github.com/iliyamo/user-auth-service/internal/model"
	"github.com/iliyamo/user-auth-service/internal/utils"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check, used by load balancers and
// monitoring to verify the service is up.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth wires the auth surface. Unauthenticated operations live
// under /v1/auth and carry the rate limiter when one is provided;
// protected endpoints live under /v1 behind the JWT middleware.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, codec *utils.TokenCodec, limiter echo.MiddlewareFunc) {
	// Operations that establish or exchange credentials. These are the
	// brute-force targets, so the token bucket applies here.
	g := e.Group("/v1/auth")
	if limiter != nil {
		g.Use(limiter)
	}
	g.GET("/check", a.CheckEmail)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Issues a new access token without rotating the refresh token.
	g.POST("/refresh", a.Refresh)
	// Bridges a Kakao authorization code into a local session.
	g.GET("/kakao", a.KakaoLogin)

	// Routes that require a valid access token. JWTAuth validates the
	// bearer and injects user_id/role; RequireRole rejects unknown
	// role claims.
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(codec))
	auth.Use(middleware.RequireRole(model.RoleCommon, model.RolePremium))
	auth.GET("/me", a.Me)
	auth.PUT("/promote", a.Promote)
	auth.POST("/logout", a.Logout)
}
