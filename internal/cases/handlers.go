package cases

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/klamai/klamai-backend/internal/access"
	"github.com/klamai/klamai-backend/internal/auth"
	"github.com/klamai/klamai-backend/internal/notifications"
	"github.com/klamai/klamai-backend/pkg/audit"
	"github.com/klamai/klamai-backend/pkg/models"
	"github.com/klamai/klamai-backend/pkg/sanitize"
	"github.com/klamai/klamai-backend/pkg/validation"
)

// ===== DTOs =====

type CreateCaseRequest struct {
	EspecialidadID int    `json:"especialidad_id" validate:"required,gte=1"`
	MotivoConsulta string `json:"motivo_consulta" validate:"required,max=4000"`
}

type CreateDraftRequest struct {
	Nombre         string `json:"nombre" validate:"required,min=2,max=80"`
	Email          string `json:"email" validate:"required,email,max=120"`
	EspecialidadID int    `json:"especialidad_id" validate:"required,gte=1"`
	MotivoConsulta string `json:"motivo_consulta" validate:"required,max=4000"`
}

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

// @Summary      Create case
// @Description  Authenticated client opens a draft case
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateCaseRequest  true  "Case payload"
// @Success      201  {object}  map[string]string  "id"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /cases [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreateCaseRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	clientUUID, _ := uuid.Parse(auth.MustUserID(c))
	cs := models.Case{
		ClienteID:      &clientUUID,
		EspecialidadID: in.EspecialidadID,
		MotivoConsulta: strings.TrimSpace(in.MotivoConsulta),
		Estado:         models.CaseDraft,
	}
	if err := h.db.Create(&cs).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": cs.ID})
}

// @Summary      Create anonymous draft
// @Description  Visitor without an account opens a draft case with contact data
// @Tags         cases
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateDraftRequest  true  "Draft payload"
// @Success      201  {object}  map[string]string  "id"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Router       /cases/draft [post]
func (h *Handler) CreateDraft(c *fiber.Ctx) error {
	var in CreateDraftRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	cs := models.Case{
		NombreBorrador: strings.TrimSpace(in.Nombre),
		EmailBorrador:  in.Email,
		EspecialidadID: in.EspecialidadID,
		MotivoConsulta: strings.TrimSpace(in.MotivoConsulta),
		Estado:         models.CaseDraft,
	}
	if err := h.db.Create(&cs).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": cs.ID})
}

type caseListItem struct {
	ID             uuid.UUID         `json:"id"`
	EspecialidadID int               `json:"especialidad_id"`
	Estado         models.CaseStatus `json:"estado"`
	CreatedAt      time.Time         `json:"created_at"`
}

// @Summary      List my cases
// @Description  Client lists their own cases (paginated)
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Failure      401  {object}  models.ErrorResponse
// @Router       /cases/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	clientID := auth.MustUserID(c)
	page, size := parsePage(c)

	var total int64
	if err := h.db.Model(&models.Case{}).
		Where("cliente_id = ?", clientID).
		Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]caseListItem, 0, size)
	if err := h.db.Model(&models.Case{}).
		Where("cliente_id = ?", clientID).
		Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

// @Summary      Case detail
// @Description  Owner client, assigned lawyer or super admin gets the case
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id   path string true "case id (uuid)"
// @Success      200  {object}  models.Case
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id} [get]
func (h *Handler) GetDetail(c *fiber.Ctx) error {
	actor := access.ActorFromCtx(c)
	caseID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	cs, err := access.CheckByID(h.db, actor, caseID, access.OpView)
	if err != nil {
		return err
	}

	if err := h.db.Preload("Asignaciones", func(db *gorm.DB) *gorm.DB {
		return db.Order("fecha_asignacion DESC")
	}).First(cs, "id = ?", cs.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if cs.Asignaciones == nil {
		cs.Asignaciones = []models.Assignment{}
	}

	return c.JSON(cs)
}

// ====== Lawyer board (anonymized) ======

type BoardItem struct {
	ID             uuid.UUID `json:"id"`
	EspecialidadID int       `json:"especialidad_id"`
	CreatedAt      time.Time `json:"created_at"`
	Preview        string    `json:"preview"`
}

// @Summary      Case board (anonymized)
// @Description  Lawyer browses DISPONIBLE cases; drafts and paid-pending cases never appear
// @Tags         board
// @Security     BearerAuth
// @Produce      json
// @Param        page          query int    false "page"
// @Param        pageSize      query int    false "pageSize"
// @Param        especialidad  query int    false "specialty id"
// @Success      200  {object}  map[string]any
// @Failure      401  {object}  models.ErrorResponse
// @Router       /board [get]
func (h *Handler) Board(c *fiber.Ctx) error {
	page, size := parsePage(c)
	especialidad, _ := strconv.Atoi(c.Query("especialidad", "0"))

	dbq := h.db.Model(&models.Case{}).Where("estado = ?", models.CaseAvailable)
	if especialidad > 0 {
		dbq = dbq.Where("especialidad_id = ?", especialidad)
	}

	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.Case
	if err := dbq.Order("created_at DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]BoardItem, 0, len(list))
	for _, cs := range list {
		items = append(items, BoardItem{
			ID:             cs.ID,
			EspecialidadID: cs.EspecialidadID,
			CreatedAt:      cs.CreatedAt,
			Preview:        sanitize.Summary(sanitize.RedactPII(cs.MotivoConsulta), 240),
		})
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}

// ====== Closure ======

type closeRequest struct {
	Motivo string `json:"motivo" validate:"max=500"`
}

// @Summary      Close case
// @Description  Assigned lawyer or super admin closes the case; the lawyer's active assignment becomes completada
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path string        true  "case id (uuid)"
// @Param        payload  body closeRequest  false "closure reason"
// @Success      200  {object}  map[string]any
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "already closed"
// @Router       /cases/{id}/close [post]
func (h *Handler) Close(c *fiber.Ctx) error {
	actor := access.ActorFromCtx(c)
	caseID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	var in closeRequest
	_ = c.BodyParser(&in) // body is optional

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var cs models.Case
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&cs, "id = ?", caseID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if err := access.Check(tx, actor, &cs, access.OpClose); err != nil {
		tx.Rollback()
		return err
	}
	if cs.Estado != models.CaseAssigned && cs.Estado != models.CaseAvailable {
		tx.Rollback()
		return fiber.NewError(fiber.StatusConflict, "case cannot be closed from its current state")
	}

	now := time.Now()
	if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).
		Updates(map[string]any{
			"estado":       models.CaseClosed,
			"fecha_cierre": now,
			"cerrado_por":  actor.ID,
		}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	// A regular lawyer closing their case completes their assignment.
	if !actor.IsSuperAdmin() {
		if err := tx.Model(&models.Assignment{}).
			Where("caso_id = ? AND abogado_id = ? AND estado = ?",
				cs.ID, actor.ID, models.AssignmentActive).
			Update("estado", models.AssignmentCompleted).Error; err != nil {
			tx.Rollback()
			return fiber.ErrInternalServerError
		}
	}

	if cs.ClienteID != nil {
		if err := notifications.Notify(tx, *cs.ClienteID,
			"Tu caso ha sido cerrado", "/casos/"+cs.ID.String()); err != nil {
			tx.Rollback()
			return fiber.ErrInternalServerError
		}
	}

	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	audit.Log(c.Context(), h.db, &actor.ID, "caso_cerrado", "casos", cs.ID.String(), in.Motivo)
	return c.JSON(fiber.Map{"ok": true, "estado": models.CaseClosed, "fecha_cierre": now})
}

// @Summary      Mark case exhausted
// @Description  Super admin moves a DISPONIBLE case to AGOTADO
// @Tags         cases
// @Security     BearerAuth
// @Param        id path string true "case id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /cases/{id}/exhaust [post]
func (h *Handler) Exhaust(c *fiber.Ctx) error {
	actor := access.ActorFromCtx(c)
	caseID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	cs, err := access.CheckByID(h.db, actor, caseID, access.OpUpdate)
	if err != nil {
		return err
	}
	if cs.Estado != models.CaseAvailable {
		return fiber.NewError(fiber.StatusConflict, "only disponible cases can be exhausted")
	}

	if err := h.db.Model(&models.Case{}).Where("id = ?", cs.ID).
		Update("estado", models.CaseExhausted).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	audit.Log(c.Context(), h.db, &actor.ID, "caso_agotado", "casos", cs.ID.String(), "")
	return c.JSON(fiber.Map{"ok": true, "estado": models.CaseExhausted})
}
