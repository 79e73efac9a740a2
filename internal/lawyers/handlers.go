package lawyers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

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

/* ================================ DTOs ================================= */

// Public application form (no account required)
type ApplyRequest struct {
	Nombre          string `json:"nombre" validate:"required,min=2,max=80"`
	Email           string `json:"email" validate:"required,email,max=120"`
	NumeroColegiado string `json:"numero_colegiado" validate:"required,colegiado"`
	EspecialidadID  int    `json:"especialidad_id" validate:"required,min=1"`
	Motivacion      string `json:"motivacion" validate:"max=2000"`
}

type ReviewRequest struct {
	Notas string `json:"notas" validate:"max=1000"`
}

type RequestResponse struct {
	ID              uuid.UUID            `json:"id"`
	Nombre          string               `json:"nombre"`
	Email           string               `json:"email"`
	NumeroColegiado string               `json:"numero_colegiado"`
	EspecialidadID  int                  `json:"especialidad_id"`
	Motivacion      string               `json:"motivacion"`
	Estado          models.RequestStatus `json:"estado"`
	NotasRevision   string               `json:"notas_revision,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

func toResponse(r *models.LawyerRequest) RequestResponse {
	return RequestResponse{
		ID: r.ID, Nombre: r.Nombre, Email: r.Email,
		NumeroColegiado: r.NumeroColegiado, EspecialidadID: r.EspecialidadID,
		Motivacion: r.Motivacion, Estado: r.Estado,
		NotasRevision: r.NotasRevision, CreatedAt: r.CreatedAt,
	}
}

// tempPassword mints the provisional credential mailed to an approved
// lawyer. 12 random bytes, hex-encoded.
func tempPassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

/* =============================== Apply ================================= */

// @Summary      Apply as lawyer
// @Description  Public onboarding application; reviewed by a super admin
// @Tags         lawyers
// @Accept       json
// @Produce      json
// @Param        payload  body  ApplyRequest  true  "Application"
// @Success      201  {object}  RequestResponse
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "pending or approved application already exists"
// @Router       /solicitudes-abogado [post]
func (h *Handler) Apply(c *fiber.Ctx) error {
	var in ApplyRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.NumeroColegiado = strings.ToUpper(strings.TrimSpace(in.NumeroColegiado))

	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	// One live application per email. A rejected application may retry.
	var count int64
	if err := h.db.Model(&models.LawyerRequest{}).
		Where("email = ? AND estado IN ?", in.Email,
			[]models.RequestStatus{models.RequestPending, models.RequestApproved}).
		Count(&count).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if count > 0 {
		return fiber.NewError(fiber.StatusConflict, "an application for this email is already under review or approved")
	}

	req := models.LawyerRequest{
		Nombre: in.Nombre, Email: in.Email,
		NumeroColegiado: in.NumeroColegiado, EspecialidadID: in.EspecialidadID,
		Motivacion: in.Motivacion, Estado: models.RequestPending,
	}
	if err := h.db.Create(&req).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusCreated).JSON(toResponse(&req))
}

/* ================================ List ================================= */

// @Summary      List lawyer applications
// @Tags         lawyers
// @Security     BearerAuth
// @Produce      json
// @Param        estado  query  string  false  "pendiente | aprobada | rechazada"
// @Success      200  {array}  RequestResponse
// @Router       /solicitudes-abogado [get]
func (h *Handler) List(c *fiber.Ctx) error {
	q := h.db.Model(&models.LawyerRequest{}).Order("created_at DESC")
	if estado := strings.TrimSpace(c.Query("estado")); estado != "" {
		q = q.Where("estado = ?", estado)
	}

	var rows []models.LawyerRequest
	if err := q.Limit(200).Find(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	out := make([]RequestResponse, 0, len(rows))
	for i := range rows {
		out = append(out, toResponse(&rows[i]))
	}
	return c.JSON(out)
}

/* =============================== Approve =============================== */

// @Summary      Approve lawyer application
// @Description  Marks the application APROBADA and provisions the lawyer's
// @Description  profile with a temporary password, atomically. The welcome
// @Description  email goes through the durable queue.
// @Tags         lawyers
// @Security     BearerAuth
// @Produce      json
// @Param        id       path  string         true   "application id (uuid)"
// @Param        payload  body  ReviewRequest  false  "review notes"
// @Success      200  {object}  RequestResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "not pending / email already registered"
// @Router       /solicitudes-abogado/{id}/approve [post]
func (h *Handler) Approve(c *fiber.Ctx) error {
	reviewerID, err := uuid.Parse(c.Locals("userID").(string))
	if err != nil {
		return fiber.ErrUnauthorized
	}

	var in ReviewRequest
	_ = c.BodyParser(&in) // body optional
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	plain, err := tempPassword()
	if err != nil {
		return fiber.ErrInternalServerError
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return fiber.ErrInternalServerError
	}

	var req models.LawyerRequest
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&req, "id = ?", c.Params("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.ErrNotFound
			}
			return err
		}
		if req.Estado != models.RequestPending {
			return fiber.NewError(fiber.StatusConflict, "application was already reviewed")
		}

		var taken int64
		if err := tx.Model(&models.Profile{}).Where("email = ?", req.Email).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return fiber.NewError(fiber.StatusConflict, "an account with this email already exists")
		}

		esp := req.EspecialidadID
		profile := models.Profile{
			Email:           req.Email,
			PasswordHash:    string(hash),
			Role:            models.RoleLawyer,
			TipoAbogado:     models.LawyerRegular,
			Nombre:          req.Nombre,
			NumeroColegiado: req.NumeroColegiado,
			EspecialidadID:  &esp,
		}
		if err := tx.Create(&profile).Error; err != nil {
			return err
		}

		req.Estado = models.RequestApproved
		req.RevisadoPor = &reviewerID
		req.NotasRevision = in.Notas
		return tx.Save(&req).Error
	})
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return fe
		}
		return fiber.ErrInternalServerError
	}

	audit.Log(c.Context(), h.db, &reviewerID, "solicitud_aprobada", "solicitudes_abogado", req.ID.String(), req.Email)

	if h.tasks != nil {
		err := queue.EnqueueEmail(c.Context(), h.tasks, queue.EmailPayload{
			Kind: queue.EmailLawyerWelcome,
			To:   req.Email,
			Params: map[string]string{
				"nombre":   req.Nombre,
				"password": plain,
			},
		})
		if err != nil {
			log.Printf("lawyers: enqueue welcome email: %v", err)
		}
	}

	return c.JSON(toResponse(&req))
}

/* =============================== Reject ================================ */

// @Summary      Reject lawyer application
// @Tags         lawyers
// @Security     BearerAuth
// @Produce      json
// @Param        id       path  string         true   "application id (uuid)"
// @Param        payload  body  ReviewRequest  false  "review notes"
// @Success      200  {object}  RequestResponse
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "not pending"
// @Router       /solicitudes-abogado/{id}/reject [post]
func (h *Handler) Reject(c *fiber.Ctx) error {
	reviewerID, err := uuid.Parse(c.Locals("userID").(string))
	if err != nil {
		return fiber.ErrUnauthorized
	}

	var in ReviewRequest
	_ = c.BodyParser(&in)
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var req models.LawyerRequest
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&req, "id = ?", c.Params("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.ErrNotFound
			}
			return err
		}
		if req.Estado != models.RequestPending {
			return fiber.NewError(fiber.StatusConflict, "application was already reviewed")
		}

		req.Estado = models.RequestRejected
		req.RevisadoPor = &reviewerID
		req.NotasRevision = in.Notas
		return tx.Save(&req).Error
	})
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return fe
		}
		return fiber.ErrInternalServerError
	}

	audit.Log(c.Context(), h.db, &reviewerID, "solicitud_rechazada", "solicitudes_abogado", req.ID.String(), req.Email)

	if h.tasks != nil {
		err := queue.EnqueueEmail(c.Context(), h.tasks, queue.EmailPayload{
			Kind:   queue.EmailRequestRejected,
			To:     req.Email,
			Params: map[string]string{"nombre": req.Nombre, "motivo": in.Notas},
		})
		if err != nil {
			log.Printf("lawyers: enqueue rejection email: %v", err)
		}
	}

	return c.JSON(toResponse(&req))
}
