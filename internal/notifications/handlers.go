package notifications

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/klamai/klamai-backend/internal/auth"
	"github.com/klamai/klamai-backend/pkg/models"
)

type Handler struct{ db *gorm.DB }

func NewHandler(db *gorm.DB) *Handler { return &Handler{db: db} }

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 20
	}
	return
}

// @Summary      List my notifications
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int  false "page"
// @Param        pageSize  query int  false "pageSize"
// @Param        unread    query bool false "only unread"
// @Success      200  {object}  map[string]any
// @Router       /notifications [get]
func (h *Handler) List(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.Notification{}).Where("usuario_id = ?", userID)
	if c.QueryBool("unread") {
		q = q.Where("leida = false")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []models.Notification
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if rows == nil {
		rows = []models.Notification{}
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

// @Summary      Mark one notification read
// @Tags         notifications
// @Security     BearerAuth
// @Param        id path string true "notification id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  models.ErrorResponse
// @Router       /notifications/{id}/read [post]
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	id := c.Params("id")

	res := h.db.Model(&models.Notification{}).
		Where("id = ? AND usuario_id = ?", id, userID).
		Update("leida", true)
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{"ok": true})
}

// @Summary      Mark all my notifications read
// @Tags         notifications
// @Security     BearerAuth
// @Success      200  {object}  map[string]any
// @Router       /notifications/read-all [post]
func (h *Handler) MarkAllRead(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	if err := h.db.Model(&models.Notification{}).
		Where("usuario_id = ? AND leida = false", userID).
		Update("leida", true).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}
