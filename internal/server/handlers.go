package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/tastemap/internal/apperrors"
	"github.com/MarcoPoloResearchLab/tastemap/internal/media"
	"github.com/MarcoPoloResearchLab/tastemap/internal/restaurants"
	"github.com/MarcoPoloResearchLab/tastemap/internal/reviews"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opSearch           = "http.restaurants.search"
	opNearby           = "http.restaurants.nearby"
	opDetail           = "http.restaurants.detail"
	opRegister         = "http.restaurants.register"
	opSubmitReview     = "http.reviews.submit"
	opRegisterAndShare = "http.reviews.register"
	opListReviews      = "http.reviews.list"

	uploadFormField    = "files"
	defaultSearchLimit = 5
)

var errMissingParameter = errors.New("parameter required")

type searchResponse struct {
	Total int                     `json:"total"`
	Items []restaurants.Candidate `json:"items"`
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		h.writeError(c, apperrors.Validation(opSearch, "missing_query", errMissingParameter))
		return
	}
	display, err := optionalInt(c, "display", defaultSearchLimit)
	if err != nil {
		h.writeError(c, apperrors.Validation(opSearch, "invalid_display", err))
		return
	}
	result, err := h.places.Search(c.Request.Context(), query, display)
	if err != nil {
		h.writeError(c, err)
		return
	}
	items := result.Items
	if items == nil {
		items = []restaurants.Candidate{}
	}
	c.JSON(http.StatusOK, searchResponse{Total: result.Total, Items: items})
}

func (h *httpHandler) handleNearby(c *gin.Context) {
	lat, err := requiredFloat(c, "lat")
	if err != nil {
		h.writeError(c, apperrors.Validation(opNearby, "invalid_latitude", err))
		return
	}
	lng, err := requiredFloat(c, "lng")
	if err != nil {
		h.writeError(c, apperrors.Validation(opNearby, "invalid_longitude", err))
		return
	}
	radius, err := optionalInt(c, "radius", h.defaultRadius)
	if err != nil {
		h.writeError(c, apperrors.Validation(opNearby, "invalid_radius", err))
		return
	}

	results, err := h.restaurants.Nearby(c.Request.Context(), lat, lng, radius)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveNearbyResults(len(results))
	}
	if results == nil {
		results = []restaurants.NearbyResult{}
	}
	c.JSON(http.StatusOK, results)
}

func (h *httpHandler) handleDetail(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		h.writeError(c, apperrors.Validation(opDetail, "invalid_id", err))
		return
	}
	detail, err := h.restaurants.Detail(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *httpHandler) handleRegisterRestaurant(c *gin.Context) {
	var candidate restaurants.Candidate
	if err := c.ShouldBindJSON(&candidate); err != nil {
		h.writeError(c, apperrors.Validation(opRegister, "invalid_body", err))
		return
	}
	restaurant, err := h.restaurants.RegisterOrGetRestaurant(c.Request.Context(), candidate)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, restaurant.View())
}

func (h *httpHandler) handleSubmitReview(c *gin.Context) {
	restaurantID, err := parseID(c.PostForm("restaurant_id"))
	if err != nil {
		h.writeError(c, apperrors.Validation(opSubmitReview, "invalid_restaurant_id", err))
		return
	}
	submission, closeUploads, err := h.readSubmission(c, opSubmitReview)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer closeUploads()

	review, err := h.reviews.Submit(c.Request.Context(), restaurantID, submission)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (h *httpHandler) handleSubmitReviewWithRestaurant(c *gin.Context) {
	candidate, err := candidateFromForm(c)
	if err != nil {
		h.writeError(c, apperrors.Validation(opRegisterAndShare, "invalid_restaurant", err))
		return
	}
	submission, closeUploads, err := h.readSubmission(c, opRegisterAndShare)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer closeUploads()

	review, err := h.reviews.SubmitWithRestaurant(c.Request.Context(), candidate, submission)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (h *httpHandler) handleListReviews(c *gin.Context) {
	restaurantID, err := parseID(c.Query("restaurant_id"))
	if err != nil {
		h.writeError(c, apperrors.Validation(opListReviews, "invalid_restaurant_id", err))
		return
	}
	skip, err := optionalInt(c, "skip", 0)
	if err != nil {
		h.writeError(c, apperrors.Validation(opListReviews, "invalid_skip", err))
		return
	}
	limit, err := optionalInt(c, "limit", reviews.DefaultPageSize)
	if err != nil {
		h.writeError(c, apperrors.Validation(opListReviews, "invalid_limit", err))
		return
	}
	items, err := h.reviews.ListByRestaurant(c.Request.Context(), restaurantID, skip, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if items == nil {
		items = []reviews.Review{}
	}
	c.JSON(http.StatusOK, items)
}

// readSubmission collects the shared review form fields and opens the uploaded files.
// The returned func closes every opened file.
func (h *httpHandler) readSubmission(c *gin.Context, operation string) (reviews.Submission, func(), error) {
	noop := func() {}
	rating, err := strconv.Atoi(strings.TrimSpace(c.PostForm("rating")))
	if err != nil {
		return reviews.Submission{}, noop, apperrors.Validation(operation, "invalid_rating", err)
	}
	submission := reviews.Submission{
		UserID:  c.GetString(userIDContextKey),
		Rating:  rating,
		Content: c.PostForm("content"),
	}

	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return submission, noop, nil
		}
		return reviews.Submission{}, noop, apperrors.Validation(operation, "invalid_form", err)
	}

	var opened []multipart.File
	closeAll := func() {
		for _, file := range opened {
			if closeErr := file.Close(); closeErr != nil {
				h.logger.Debug("closing upload failed", zap.Error(closeErr))
			}
		}
	}
	for _, header := range form.File[uploadFormField] {
		file, openErr := header.Open()
		if openErr != nil {
			closeAll()
			return reviews.Submission{}, noop, apperrors.Validation(operation, "unreadable_upload", openErr)
		}
		opened = append(opened, file)
		submission.Uploads = append(submission.Uploads, media.Upload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		})
	}
	return submission, closeAll, nil
}

func candidateFromForm(c *gin.Context) (restaurants.Candidate, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(c.PostForm("latitude")), 64)
	if err != nil {
		return restaurants.Candidate{}, err
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(c.PostForm("longitude")), 64)
	if err != nil {
		return restaurants.Candidate{}, err
	}
	return restaurants.Candidate{
		ProviderPlaceID: c.PostForm("kakao_place_id"),
		Name:            c.PostForm("name"),
		Category:        c.PostForm("category"),
		Address:         c.PostForm("address"),
		RoadAddress:     c.PostForm("road_address"),
		Phone:           c.PostForm("phone"),
		PlaceURL:        c.PostForm("place_url"),
		Latitude:        lat,
		Longitude:       lng,
	}, nil
}

func requiredFloat(c *gin.Context, key string) (float64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, errMissingParameter
	}
	return strconv.ParseFloat(raw, 64)
}

func optionalInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func parseID(raw string) (uint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errMissingParameter
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}
