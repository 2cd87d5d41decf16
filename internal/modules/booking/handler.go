package booking

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"yogastudio/internal/domain"
	"yogastudio/internal/pkg/response"
	"yogastudio/internal/pkg/validator"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	users := rg.Group("/users")
	{
		users.POST("/register", h.RegisterUser)
		users.GET("/me", h.GetMe)
		users.PUT("/me", h.UpdateMe)
		users.POST("/logout", h.Logout)
	}

	bookings := rg.Group("/bookings")
	{
		bookings.POST("", h.BookClass)
		bookings.GET("", h.ListBookings)
		bookings.DELETE("/:id", h.CancelBooking)
		bookings.POST("/sync", h.Sync)
	}
}

func (h *Handler) RegisterUser(c *gin.Context) {
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid profile", errs)
		return
	}

	user, err := h.service.RegisterUser(c.Request.Context(), req.Name, req.Phone)
	if err != nil {
		h.fail(c, err, "Failed to register user")
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"user": user})
}

func (h *Handler) GetMe(c *gin.Context) {
	user, err := h.service.GetUser(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to load profile")
		return
	}
	if user == nil {
		response.Error(c, http.StatusNotFound, "USER_NOT_FOUND", "No user registered on this device")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": user})
}

func (h *Handler) UpdateMe(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid profile", errs)
		return
	}

	ctx := c.Request.Context()
	current, err := h.service.GetUser(ctx)
	if err != nil {
		h.fail(c, err, "Failed to load profile")
		return
	}
	if current == nil {
		response.Error(c, http.StatusNotFound, "USER_NOT_FOUND", "No user registered on this device")
		return
	}

	updated := *current
	updated.Name = strings.TrimSpace(req.Name)
	updated.City = strings.TrimSpace(req.City)
	if req.Avatar != "" {
		updated.Avatar = req.Avatar
	}

	if _, err := h.service.UpdateUserProfile(ctx, updated); err != nil {
		h.fail(c, err, "Failed to update profile")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": updated})
}

func (h *Handler) Logout(c *gin.Context) {
	if err := h.service.Logout(c.Request.Context()); err != nil {
		h.fail(c, err, "Failed to log out")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

func (h *Handler) BookClass(c *gin.Context) {
	var req BookClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	if errs := validator.Validate(req.Class); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid class", errs)
		return
	}

	ctx := c.Request.Context()
	var user domain.UserProfile
	if req.User != nil {
		if errs := validator.Validate(*req.User); errs != nil {
			response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid user", errs)
			return
		}
		user = domain.UserProfile{Name: req.User.Name, Phone: req.User.Phone}
	} else {
		current, err := h.service.GetUser(ctx)
		if err != nil {
			h.fail(c, err, "Failed to load profile")
			return
		}
		if current == nil {
			h.fail(c, ErrNoUser, "")
			return
		}
		user = *current
	}

	ok, err := h.service.BookClass(ctx, req.Class, user)
	if err != nil {
		h.fail(c, err, "Failed to book class")
		return
	}
	if !ok {
		response.Error(c, http.StatusConflict, "ALREADY_BOOKED", "You are already booked for this class")
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"booked": true, "class_id": req.Class.ID})
}

func (h *Handler) ListBookings(c *gin.Context) {
	ctx := c.Request.Context()
	phone := strings.TrimSpace(c.Query("phone"))
	if phone == "" {
		current, err := h.service.GetUser(ctx)
		if err != nil {
			h.fail(c, err, "Failed to load profile")
			return
		}
		if current == nil {
			h.fail(c, ErrNoUser, "")
			return
		}
		phone = current.Phone
	}

	bookings, err := h.service.GetBookings(ctx, phone)
	if err != nil {
		h.fail(c, err, "Failed to load bookings")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"bookings": bookings})
}

func (h *Handler) CancelBooking(c *gin.Context) {
	id := c.Param("id")
	if !h.service.CancelBooking(c.Request.Context(), id) {
		response.Error(c, http.StatusConflict, "CANCEL_FAILED", "Booking could not be cancelled")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"cancelled": true, "id": id})
}

func (h *Handler) Sync(c *gin.Context) {
	report, err := h.service.SyncCurrentUser(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to sync bookings")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"report": report})
}

func (h *Handler) fail(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request")
	case errors.Is(err, ErrNoUser):
		response.Error(c, http.StatusBadRequest, "USER_NOT_REGISTERED", "Register before booking")
	case errors.Is(err, ErrLocalCache):
		_ = c.Error(err)
		response.Error(c, http.StatusServiceUnavailable, "LOCAL_CACHE_UNAVAILABLE", "Please try again")
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", message)
	}
}
