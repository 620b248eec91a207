package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tastemap/internal/apperrors"
	"github.com/MarcoPoloResearchLab/tastemap/internal/auth"
	"github.com/MarcoPoloResearchLab/tastemap/internal/metrics"
	"github.com/MarcoPoloResearchLab/tastemap/internal/placesearch"
	"github.com/MarcoPoloResearchLab/tastemap/internal/restaurants"
	"github.com/MarcoPoloResearchLab/tastemap/internal/reviews"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "tastemap_user_id"

	defaultRadiusMeters = 1000
	maxMultipartMemory  = 32 << 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserResolver     = errors.New("user resolver dependency required")
	errMissingRestaurants      = errors.New("restaurant service dependency required")
	errMissingReviews          = errors.New("review service dependency required")
	errMissingPlaceSearch      = errors.New("place search dependency required")
)

// SessionValidator authenticates a request from its session cookie or bearer token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserResolver maps session claims onto the canonical user id.
type UserResolver interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

// RestaurantService serves the nearby list, the detail view and catalog registration.
type RestaurantService interface {
	Nearby(ctx context.Context, lat, lng float64, radiusMeters int) ([]restaurants.NearbyResult, error)
	Detail(ctx context.Context, id uint) (restaurants.DetailResult, error)
	RegisterOrGetRestaurant(ctx context.Context, candidate restaurants.Candidate) (restaurants.Restaurant, error)
}

// ReviewService writes and lists reviews.
type ReviewService interface {
	Submit(ctx context.Context, restaurantID uint, submission reviews.Submission) (reviews.Review, error)
	SubmitWithRestaurant(ctx context.Context, candidate restaurants.Candidate, submission reviews.Submission) (reviews.Review, error)
	ListByRestaurant(ctx context.Context, restaurantID uint, skip, limit int) ([]reviews.Review, error)
}

// PlaceSearcher looks up restaurant candidates at the place-search provider.
type PlaceSearcher interface {
	Search(ctx context.Context, query string, display int) (placesearch.Result, error)
}

// Dependencies carries the services the HTTP surface is built on. Metrics, media serving and
// the logger are optional; the rest are required.
type Dependencies struct {
	SessionValidator    SessionValidator
	Users               UserResolver
	Restaurants         RestaurantService
	Reviews             ReviewService
	PlaceSearch         PlaceSearcher
	Metrics             *metrics.Metrics
	MediaDirectory      string
	MediaBasePath       string
	DefaultRadiusMeters int
	Logger              *zap.Logger
}

// NewHTTPHandler builds the gin engine for the /api/v1 routes and the operational endpoints.
// Review submission requires an authenticated session; browsing does not.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	switch {
	case deps.SessionValidator == nil:
		return nil, errMissingSessionValidator
	case deps.Users == nil:
		return nil, errMissingUserResolver
	case deps.Restaurants == nil:
		return nil, errMissingRestaurants
	case deps.Reviews == nil:
		return nil, errMissingReviews
	case deps.PlaceSearch == nil:
		return nil, errMissingPlaceSearch
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	radius := deps.DefaultRadiusMeters
	if radius <= 0 {
		radius = defaultRadiusMeters
	}

	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(corsMiddleware())

	handler := &httpHandler{
		sessions:      deps.SessionValidator,
		users:         deps.Users,
		restaurants:   deps.Restaurants,
		reviews:       deps.Reviews,
		places:        deps.PlaceSearch,
		metrics:       deps.Metrics,
		defaultRadius: radius,
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	if strings.TrimSpace(deps.MediaDirectory) != "" && strings.TrimSpace(deps.MediaBasePath) != "" {
		router.Static(deps.MediaBasePath, deps.MediaDirectory)
	}

	api := router.Group("/api/v1")
	api.GET("/restaurants/search", handler.handleSearch)
	api.GET("/restaurants/nearby", handler.handleNearby)
	api.GET("/restaurants/:id", handler.handleDetail)
	api.POST("/restaurants", handler.handleRegisterRestaurant)
	api.GET("/reviews", handler.handleListReviews)

	protected := api.Group("/reviews")
	protected.Use(handler.authorizeRequest)
	protected.POST("", handler.handleSubmitReview)
	protected.POST("/register", handler.handleSubmitReviewWithRestaurant)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions      SessionValidator
	users         UserResolver
	restaurants   RestaurantService
	reviews       ReviewService
	places        PlaceSearcher
	metrics       *metrics.Metrics
	defaultRadius int
	logger        *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("user identity resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// writeError maps an error's kind onto a status. Internal causes are logged, never returned.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindUpstream:
		status = http.StatusBadGateway
	case apperrors.KindConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("code", apperrors.CodeOf(err)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, errorResponse{
		Error:  kind.String(),
		Code:   apperrors.CodeOf(err),
		Detail: apperrors.DetailOf(err),
	})
}
