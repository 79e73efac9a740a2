package documents

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/klamai/klamai-backend/internal/auth"
	"github.com/klamai/klamai-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Fatal("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Profile{}, &models.Case{}, &models.Assignment{},
		&models.ClientDocument{}, &models.LawyerDocument{}, &models.SecurityAudit{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	documentos_cliente,
	documentos_abogado,
	auditoria_seguridad,
	asignaciones_casos,
	casos,
	profiles
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

func withTx(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB)) {
	t.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin tx: %v", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	fn(tx)
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit tx: %v", err)
	}
}

func injectAuth(userID uuid.UUID, role, lawyerType string) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("role", role)
		c.Locals("lawyerType", lawyerType)
		return c.Next()
	}
}

func newTestApp(h *Handler, userID uuid.UUID, role, lawyerType string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: auth.ErrorHandler})
	app.Use(injectAuth(userID, role, lawyerType))
	app.Post("/api/cases/:id/documents", h.Upload)
	app.Get("/api/documents/:id/signed-url", h.SignedURL)
	app.Delete("/api/documents/:id", h.Delete)
	return app
}

type seedResult struct {
	ClientID uuid.UUID
	LawyerID uuid.UUID
	CaseID   uuid.UUID
}

func seedCase(t *testing.T, db *gorm.DB, estado models.CaseStatus) seedResult {
	t.Helper()
	clientID := uuid.New()
	lawyerID := uuid.New()
	caseID := uuid.New()

	for _, p := range []models.Profile{
		{ID: clientID, Email: "client_" + clientID.String()[:8] + "@x.com", Role: models.RoleClient},
		{ID: lawyerID, Email: "lawyer_" + lawyerID.String()[:8] + "@x.com", Role: models.RoleLawyer, TipoAbogado: models.LawyerRegular},
	} {
		if err := db.Create(&p).Error; err != nil {
			t.Fatal(err)
		}
	}

	cid := clientID
	if err := db.Create(&models.Case{
		ID: caseID, ClienteID: &cid, EspecialidadID: 1,
		MotivoConsulta: "Consulta de prueba", Estado: estado,
	}).Error; err != nil {
		t.Fatal(err)
	}
	return seedResult{ClientID: clientID, LawyerID: lawyerID, CaseID: caseID}
}

func assign(t *testing.T, db *gorm.DB, caseID, lawyerID uuid.UUID) {
	t.Helper()
	if err := db.Create(&models.Assignment{
		CasoID: caseID, AbogadoID: lawyerID, AsignadoPor: uuid.New(),
		Estado: models.AssignmentActive,
	}).Error; err != nil {
		t.Fatal(err)
	}
}

// multipartFile builds a multipart body with one file part of the given
// content type.
func multipartFile(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf, w.FormDataContentType()
}

func upload(app *fiber.App, caseID uuid.UUID, body *bytes.Buffer, contentType string) (int, map[string]any) {
	req := httptest.NewRequest("POST", "/api/cases/"+caseID.String()+"/documents", body)
	req.Header.Set("Content-Type", contentType)
	resp, _ := app.Test(req)
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

/* ============================================================================
   Tests — upload routing, type limits, signed URLs, deletion
   ============================================================================ */

// A client upload lands in documentos_cliente; a lawyer upload on the
// same case lands in documentos_abogado.
func Test_Upload_RoutesByRole(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedCase(t, tx, models.CaseAssigned)
		assign(t, tx, seed.CaseID, seed.LawyerID)

		h := NewHandler(tx, nil)

		body, ct := multipartFile(t, "file", "dni.pdf", "application/pdf", []byte("%PDF-1.4 test"))
		clientApp := newTestApp(h, seed.ClientID, string(models.RoleClient), "")
		if code, out := upload(clientApp, seed.CaseID, body, ct); code != 201 {
			t.Fatalf("client upload: %d %v", code, out)
		}

		body, ct = multipartFile(t, "file", "escrito.pdf", "application/pdf", []byte("%PDF-1.4 test"))
		lawyerApp := newTestApp(h, seed.LawyerID, string(models.RoleLawyer), string(models.LawyerRegular))
		if code, out := upload(lawyerApp, seed.CaseID, body, ct); code != 201 {
			t.Fatalf("lawyer upload: %d %v", code, out)
		}

		var nc, nl int64
		tx.Model(&models.ClientDocument{}).Where("caso_id = ?", seed.CaseID).Count(&nc)
		tx.Model(&models.LawyerDocument{}).Where("caso_id = ?", seed.CaseID).Count(&nl)
		if nc != 1 || nl != 1 {
			t.Fatalf("want 1 row per table, got cliente=%d abogado=%d", nc, nl)
		}
	})
}

// Disallowed content types are rejected before any row is written.
func Test_Upload_RejectsBadType(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedCase(t, tx, models.CaseAssigned)

		h := NewHandler(tx, nil)
		app := newTestApp(h, seed.ClientID, string(models.RoleClient), "")

		body, ct := multipartFile(t, "file", "run.exe", "application/octet-stream", []byte{0x4d, 0x5a})
		code, _ := upload(app, seed.CaseID, body, ct)
		if code != 400 {
			t.Fatalf("want 400, got %d", code)
		}

		var n int64
		tx.Model(&models.ClientDocument{}).Count(&n)
		if n != 0 {
			t.Fatalf("no rows expected, got %d", n)
		}
	})
}

// A lawyer without an assignment cannot attach files.
func Test_Upload_UnassignedLawyerForbidden(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedCase(t, tx, models.CaseAvailable)

		h := NewHandler(tx, nil)
		app := newTestApp(h, seed.LawyerID, string(models.RoleLawyer), string(models.LawyerRegular))

		body, ct := multipartFile(t, "file", "x.pdf", "application/pdf", []byte("%PDF"))
		code, _ := upload(app, seed.CaseID, body, ct)
		if code != 403 {
			t.Fatalf("want 403, got %d", code)
		}
	})
}

// Closed cases veto new uploads for everyone, including the owner.
func Test_Upload_ClosedCaseConflict(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedCase(t, tx, models.CaseClosed)

		h := NewHandler(tx, nil)
		app := newTestApp(h, seed.ClientID, string(models.RoleClient), "")

		body, ct := multipartFile(t, "file", "x.pdf", "application/pdf", []byte("%PDF"))
		code, _ := upload(app, seed.CaseID, body, ct)
		if code != 409 {
			t.Fatalf("want 409, got %d", code)
		}
	})
}

// Signed URL access follows case permissions and never returns the raw
// storage path to outsiders.
func Test_SignedURL_Permissions(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedCase(t, tx, models.CaseAssigned)
		assign(t, tx, seed.CaseID, seed.LawyerID)

		doc := models.ClientDocument{
			CasoID: seed.CaseID, SubidoPor: seed.ClientID,
			RutaArchivo: "casos/" + seed.CaseID.String() + "/x.pdf", TamanoBytes: 4,
		}
		if err := tx.Create(&doc).Error; err != nil {
			t.Fatal(err)
		}

		h := NewHandler(tx, nil)

		// Owner and assigned lawyer get a URL.
		for _, who := range []struct {
			id   uuid.UUID
			role string
			tipo string
		}{
			{seed.ClientID, string(models.RoleClient), ""},
			{seed.LawyerID, string(models.RoleLawyer), string(models.LawyerRegular)},
		} {
			app := newTestApp(h, who.id, who.role, who.tipo)
			resp, _ := app.Test(httptest.NewRequest("GET", "/api/documents/"+doc.ID.String()+"/signed-url", nil))
			if resp.StatusCode != 200 {
				t.Fatalf("%s: want 200, got %d", who.role, resp.StatusCode)
			}
			var out struct {
				URL string `json:"url"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&out)
			if !strings.Contains(out.URL, doc.RutaArchivo) {
				t.Fatalf("dummy url should carry the key, got %q", out.URL)
			}
		}

		// A stranger lawyer gets 403.
		stranger := uuid.New()
		if err := tx.Create(&models.Profile{
			ID: stranger, Email: "s_" + stranger.String()[:8] + "@x.com",
			Role: models.RoleLawyer, TipoAbogado: models.LawyerRegular,
		}).Error; err != nil {
			t.Fatal(err)
		}
		app := newTestApp(h, stranger, string(models.RoleLawyer), string(models.LawyerRegular))
		resp, _ := app.Test(httptest.NewRequest("GET", "/api/documents/"+doc.ID.String()+"/signed-url", nil))
		if resp.StatusCode != 403 {
			t.Fatalf("stranger: want 403, got %d", resp.StatusCode)
		}
	})
}

// Deleting removes the metadata row; unknown ids answer 404.
func Test_Delete_Document(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedCase(t, tx, models.CaseAssigned)

		doc := models.ClientDocument{
			CasoID: seed.CaseID, SubidoPor: seed.ClientID,
			RutaArchivo: "casos/" + seed.CaseID.String() + "/x.pdf", TamanoBytes: 4,
		}
		if err := tx.Create(&doc).Error; err != nil {
			t.Fatal(err)
		}

		h := NewHandler(tx, nil)
		app := newTestApp(h, seed.ClientID, string(models.RoleClient), "")

		resp, _ := app.Test(httptest.NewRequest("DELETE", "/api/documents/"+doc.ID.String(), nil))
		if resp.StatusCode != 200 {
			t.Fatalf("want 200, got %d", resp.StatusCode)
		}

		var n int64
		tx.Model(&models.ClientDocument{}).Where("id = ?", doc.ID).Count(&n)
		if n != 0 {
			t.Fatalf("row should be gone")
		}

		resp, _ = app.Test(httptest.NewRequest("DELETE", "/api/documents/"+doc.ID.String(), nil))
		if resp.StatusCode != 404 {
			t.Fatalf("want 404 after delete, got %d", resp.StatusCode)
		}
	})
}

// Neither an unassigned lawyer nor another client can delete someone
// else's document; the row survives.
func Test_Delete_UnauthorizedForbidden(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedCase(t, tx, models.CaseAssigned)

		doc := models.ClientDocument{
			CasoID: seed.CaseID, SubidoPor: seed.ClientID,
			RutaArchivo: "casos/" + seed.CaseID.String() + "/x.pdf", TamanoBytes: 4,
		}
		if err := tx.Create(&doc).Error; err != nil {
			t.Fatal(err)
		}

		otherClient := uuid.New()
		if err := tx.Create(&models.Profile{
			ID: otherClient, Email: "c_" + otherClient.String()[:8] + "@x.com",
			Role: models.RoleClient,
		}).Error; err != nil {
			t.Fatal(err)
		}

		h := NewHandler(tx, nil)

		// seed.LawyerID exists but has no assignment on this case.
		for _, who := range []struct {
			id   uuid.UUID
			role string
			tipo string
		}{
			{seed.LawyerID, string(models.RoleLawyer), string(models.LawyerRegular)},
			{otherClient, string(models.RoleClient), ""},
		} {
			app := newTestApp(h, who.id, who.role, who.tipo)
			resp, _ := app.Test(httptest.NewRequest("DELETE", "/api/documents/"+doc.ID.String(), nil))
			if resp.StatusCode != 403 {
				t.Fatalf("%s: want 403, got %d", who.role, resp.StatusCode)
			}
		}

		var n int64
		tx.Model(&models.ClientDocument{}).Where("id = ?", doc.ID).Count(&n)
		if n != 1 {
			t.Fatalf("row should survive, got %d", n)
		}
	})
}
