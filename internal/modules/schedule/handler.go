package schedule

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"yogastudio/internal/domain"
	"yogastudio/internal/pkg/response"
)

type Handler struct {
	service *Service
	now     func() time.Time
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service, now: time.Now}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/classes", h.ListClasses)
}

// ListClasses serves GET /classes?date=YYYY-MM-DD&type=offline|online. Date defaults to today.
func (h *Handler) ListClasses(c *gin.Context) {
	date := h.now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	kind := domain.ClassKind(c.DefaultQuery("type", string(domain.ClassOffline)))
	classes, err := h.service.GetClassesForDate(c.Request.Context(), date, kind)
	if err != nil {
		if err == ErrValidation {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "type must be offline or online")
			return
		}
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load schedule")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"date":    date.Format("2006-01-02"),
		"type":    kind,
		"classes": classes,
	})
}
