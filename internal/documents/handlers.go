package documents

import (
	"errors"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/klamai/klamai-backend/internal/access"
	"github.com/klamai/klamai-backend/internal/storage"
	"github.com/klamai/klamai-backend/pkg/audit"
	"github.com/klamai/klamai-backend/pkg/models"
)

const (
	maxFileSize      = 10 * 1024 * 1024
	signedURLSeconds = 3600 // one hour, per view/download request
)

// Allowed upload types. Extension fallback covers user agents that send
// no Content-Type.
var allowedMimes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

type Handler struct {
	db *gorm.DB
	sb *storage.Supabase // nil in tests; blob calls are skipped
}

func NewHandler(db *gorm.DB, sb *storage.Supabase) *Handler {
	return &Handler{db: db, sb: sb}
}

// docRecord is the common shape of a row from either document table.
type docRecord struct {
	ID          uuid.UUID
	CasoID      uuid.UUID
	SubidoPor   uuid.UUID
	RutaArchivo string
	Tabla       string
}

// findDocument looks the id up in documentos_cliente first, then
// documentos_abogado. The two tables are parallel on purpose; handlers
// treat them uniformly.
func (h *Handler) findDocument(id string) (*docRecord, error) {
	var cd models.ClientDocument
	err := h.db.First(&cd, "id = ?", id).Error
	if err == nil {
		return &docRecord{ID: cd.ID, CasoID: cd.CasoID, SubidoPor: cd.SubidoPor,
			RutaArchivo: cd.RutaArchivo, Tabla: "documentos_cliente"}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.ErrInternalServerError
	}

	var ld models.LawyerDocument
	err = h.db.First(&ld, "id = ?", id).Error
	if err == nil {
		return &docRecord{ID: ld.ID, CasoID: ld.CasoID, SubidoPor: ld.SubidoPor,
			RutaArchivo: ld.RutaArchivo, Tabla: "documentos_abogado"}, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.ErrNotFound
	}
	return nil, fiber.ErrInternalServerError
}

// @Summary      Upload case document
// @Description  Owner client, assigned lawyer or super admin attaches a file.
// @Description  The row lands in documentos_cliente or documentos_abogado
// @Description  depending on the uploader's role.
// @Tags         documents
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id           path      string  true   "case id (uuid)"
// @Param        file         formData  file    true   "PDF/PNG/JPEG/DOCX, max 10MB"
// @Param        tipo         formData  string  false  "document type tag"
// @Param        descripcion  formData  string  false  "description"
// @Success      201  {object}  map[string]any
// @Failure      400  {object}  models.ErrorResponse
// @Failure      403  {object}  models.ErrorResponse
// @Router       /cases/{id}/documents [post]
func (h *Handler) Upload(c *fiber.Ctx) error {
	actor := access.ActorFromCtx(c)
	caseID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

	cs, err := access.CheckByID(h.db, actor, caseID, access.OpUploadDocument)
	if err != nil {
		return err
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart form with a file field required")
	}
	if fh.Size <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty file")
	}
	if fh.Size > maxFileSize {
		return fiber.NewError(fiber.StatusBadRequest, "max 10MB per file")
	}

	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(fh.Filename))
	}
	if !allowedMimes[ct] {
		return fiber.NewError(fiber.StatusBadRequest, "only PDF, PNG, JPEG or DOCX are allowed")
	}

	key := ""
	if h.sb != nil {
		f, err := fh.Open()
		if err != nil {
			return fiber.ErrInternalServerError
		}
		defer f.Close()

		key = h.sb.MakeObjectKey(cs.ID.String(), fh.Filename)
		if err := h.sb.Upload(c.Context(), key, f, ct, fh.Size); err != nil {
			return fiber.ErrInternalServerError
		}
	} else {
		key = "casos/" + cs.ID.String() + "/" + fh.Filename
	}

	tipo := strings.TrimSpace(c.FormValue("tipo"))
	descripcion := strings.TrimSpace(c.FormValue("descripcion"))

	var id uuid.UUID
	if actor.Role == models.RoleClient {
		rec := models.ClientDocument{
			CasoID: cs.ID, SubidoPor: actor.ID, TipoDocumento: tipo,
			RutaArchivo: key, TamanoBytes: fh.Size, Descripcion: descripcion,
		}
		if err := h.db.Create(&rec).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		id = rec.ID
	} else {
		rec := models.LawyerDocument{
			CasoID: cs.ID, SubidoPor: actor.ID, TipoDocumento: tipo,
			RutaArchivo: key, TamanoBytes: fh.Size, Descripcion: descripcion,
		}
		if err := h.db.Create(&rec).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		id = rec.ID
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": id, "ruta": key, "nombre": fh.Filename, "tamano": fh.Size,
	})
}

// @Summary      Get signed URL
// @Description  Mints a short-lived signed URL; storage paths are never
// @Description  exposed directly.
// @Tags         documents
// @Security     BearerAuth
// @Produce      json
// @Param        id  path string true "document id (uuid)"
// @Success      200  {object}  map[string]any  "url, expires_in"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /documents/{id}/signed-url [get]
func (h *Handler) SignedURL(c *fiber.Ctx) error {
	actor := access.ActorFromCtx(c)

	doc, err := h.findDocument(c.Params("id"))
	if err != nil {
		return err
	}

	// Authorization runs against the document's case, not the actor's
	// general role.
	if _, err := access.CheckByID(h.db, actor, doc.CasoID, access.OpView); err != nil {
		return err
	}

	url := "signed://" + doc.RutaArchivo // dummy when storage is not wired (tests)
	if h.sb != nil {
		url, err = h.sb.SignedURL(c.Context(), doc.RutaArchivo, signedURLSeconds)
		if err != nil {
			return fiber.ErrInternalServerError
		}
	}
	return c.JSON(fiber.Map{"url": url, "expires_in": signedURLSeconds, "now": time.Now().UTC()})
}

// @Summary      Delete document
// @Description  Re-checks the permission gate against the document's case,
// @Description  then removes the blob (idempotent) and the metadata row.
// @Tags         documents
// @Security     BearerAuth
// @Produce      json
// @Param        id  path string true "document id (uuid)"
// @Success      200  {object}  map[string]any
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /documents/{id} [delete]
func (h *Handler) Delete(c *fiber.Ctx) error {
	actor := access.ActorFromCtx(c)

	doc, err := h.findDocument(c.Params("id"))
	if err != nil {
		return err
	}

	if _, err := access.CheckByID(h.db, actor, doc.CasoID, access.OpDeleteDocument); err != nil {
		return err
	}

	// Blob first: its delete is idempotent, so a crash between the two
	// steps leaves only a dangling row that a retry can clear.
	if h.sb != nil {
		if err := h.sb.Delete(c.Context(), doc.RutaArchivo); err != nil {
			return fiber.ErrInternalServerError
		}
	}

	if doc.Tabla == "documentos_cliente" {
		err = h.db.Delete(&models.ClientDocument{}, "id = ?", doc.ID).Error
	} else {
		err = h.db.Delete(&models.LawyerDocument{}, "id = ?", doc.ID).Error
	}
	if err != nil {
		return fiber.ErrInternalServerError
	}

	audit.Log(c.Context(), h.db, &actor.ID, "documento_eliminado", doc.Tabla, doc.ID.String(), doc.RutaArchivo)
	return c.JSON(fiber.Map{"ok": true})
}
