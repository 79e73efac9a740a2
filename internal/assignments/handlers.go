package assignments

import (
	"errors"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/klamai/klamai-backend/internal/access"
	"github.com/klamai/klamai-backend/internal/auth"
	"github.com/klamai/klamai-backend/internal/notifications"
	"github.com/klamai/klamai-backend/internal/queue"
	"github.com/klamai/klamai-backend/pkg/audit"
	"github.com/klamai/klamai-backend/pkg/models"
	"github.com/klamai/klamai-backend/pkg/validation"
)

type Handler struct {
	db    *gorm.DB
	tasks *asynq.Client // nil in tests; email enqueue is skipped
}

func NewHandler(db *gorm.DB, tasks *asynq.Client) *Handler {
	return &Handler{db: db, tasks: tasks}
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

// =====================================
// POST /api/assignments (super admin)
// =====================================

type AssignRequest struct {
	CasoID    string `json:"caso_id" validate:"required,uuid4"`
	AbogadoID string `json:"abogado_id" validate:"required,uuid4"`
	Notas     string `json:"notas" validate:"max=1000"`
}

// @Summary      Assign case to lawyer
// @Description  Super admin links a DISPONIBLE case to a lawyer; the case
// @Description  update, the assignment upsert and the notification commit
// @Description  in one transaction.
// @Tags         assignments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  AssignRequest  true  "Assignment payload"
// @Success      201  {object}  map[string]any
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /assignments [post]
func (h *Handler) Assign(c *fiber.Ctx) error {
	actor := access.ActorFromCtx(c)

	var in AssignRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	caseID, _ := uuid.Parse(in.CasoID)
	lawyerID, _ := uuid.Parse(in.AbogadoID)
	notas := strings.TrimSpace(in.Notas)

	// Target must be an existing lawyer profile.
	var lawyer models.Profile
	if err := h.db.First(&lawyer, "id = ? AND role = ?", lawyerID, models.RoleLawyer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "lawyer not found")
		}
		return fiber.ErrInternalServerError
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	// 1) Lock the case so concurrent assigns serialize.
	var cs models.Case
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&cs, "id = ?", caseID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if err := access.Check(tx, actor, &cs, access.OpAssign); err != nil {
		tx.Rollback()
		return err
	}
	switch cs.Estado {
	case models.CaseAvailable, models.CaseAssigned:
		// ok; asignado allows reassignment
	default:
		tx.Rollback()
		return fiber.NewError(fiber.StatusConflict, "case is not assignable in its current state")
	}

	// 2) Previous active assignments (reassignment) stop being active.
	if err := tx.Model(&models.Assignment{}).
		Where("caso_id = ? AND abogado_id <> ? AND estado = ?", cs.ID, lawyerID, models.AssignmentActive).
		Update("estado", models.AssignmentCompleted).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	// 3) Upsert the (case, lawyer) assignment.
	var a models.Assignment
	err := tx.Where("caso_id = ? AND abogado_id = ?", cs.ID, lawyerID).First(&a).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		a = models.Assignment{
			CasoID:          cs.ID,
			AbogadoID:       lawyerID,
			AsignadoPor:     actor.ID,
			Notas:           notas,
			Estado:          models.AssignmentActive,
			FechaAsignacion: time.Now(),
		}
		if err := tx.Create(&a).Error; err != nil {
			tx.Rollback()
			return fiber.ErrInternalServerError
		}
	case err == nil:
		if err := tx.Model(&a).Updates(map[string]any{
			"estado":       models.AssignmentActive,
			"notas":        notas,
			"asignado_por": actor.ID,
			"updated_at":   time.Now(),
		}).Error; err != nil {
			tx.Rollback()
			return fiber.ErrInternalServerError
		}
	default:
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	// 4) Case state follows in the same transaction.
	if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).
		Update("estado", models.CaseAssigned).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	if err := notifications.Notify(tx, lawyerID,
		"Se te ha asignado un nuevo caso", "/casos/"+cs.ID.String()); err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	audit.Log(c.Context(), h.db, &actor.ID, "caso_asignado", "asignaciones_casos", a.ID.String(),
		"abogado="+lawyerID.String())

	// Email delivery is queued outside the transaction; a queue outage
	// must not fail the assignment.
	if h.tasks != nil {
		if err := queue.EnqueueEmail(c.Context(), h.tasks, queue.EmailPayload{
			Kind: queue.EmailCaseAssigned,
			To:   lawyer.Email,
			Params: map[string]string{
				"caso":  cs.ID.String(),
				"notas": notas,
			},
		}); err != nil {
			log.Printf("enqueue assignment email: %v", err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": a.ID, "caso_id": cs.ID, "abogado_id": lawyerID,
		"estado": models.AssignmentActive, "notas": notas,
	})
}

// =====================================================
// GET /api/assignments/mine?page=&pageSize=&estado= (lawyer)
// =====================================================

type myAssignmentItem struct {
	ID              uuid.UUID               `json:"id"`
	CasoID          uuid.UUID               `json:"caso_id"`
	Notas           string                  `json:"notas"`
	Estado          models.AssignmentStatus `json:"estado"`
	FechaAsignacion time.Time               `json:"fecha_asignacion"`
}

// @Summary      List my assignments
// @Tags         assignments
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Param        estado    query string false "activa|completada"
// @Success      200  {object}  map[string]any
// @Router       /assignments/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	lawyerID := auth.MustUserID(c)
	page, size := parsePage(c)
	estado := strings.TrimSpace(c.Query("estado"))

	q := h.db.Model(&models.Assignment{}).Where("abogado_id = ?", lawyerID)
	if estado != "" {
		switch estado {
		case string(models.AssignmentActive), string(models.AssignmentCompleted):
			q = q.Where("estado = ?", estado)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid estado filter")
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var rows []myAssignmentItem
	if err := q.Order("fecha_asignacion DESC").
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
