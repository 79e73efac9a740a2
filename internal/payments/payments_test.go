package payments

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
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
		&models.Profile{}, &models.Case{}, &models.Payment{},
		&models.Notification{}, &models.WebhookEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `
TRUNCATE TABLE
	pagos,
	notificaciones,
	stripe_webhook_events,
	casos,
	profiles
RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

func seedClientCase(t *testing.T, db *gorm.DB, estado models.CaseStatus, sessionID string) (clientID, caseID uuid.UUID) {
	t.Helper()
	clientID = uuid.New()
	if err := db.Create(&models.Profile{
		ID:    clientID,
		Email: "client_" + clientID.String()[:8] + "@x.com",
		Role:  models.RoleClient,
	}).Error; err != nil {
		t.Fatal(err)
	}

	caseID = uuid.New()
	cs := models.Case{
		ID: caseID, ClienteID: &clientID, EspecialidadID: 1,
		MotivoConsulta: "Consulta de prueba", Estado: estado,
	}
	if sessionID != "" {
		cs.StripeSessionID = &sessionID
	}
	if err := db.Create(&cs).Error; err != nil {
		t.Fatal(err)
	}
	return
}

func newCheckoutApp(h *Handler, userID string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: auth.ErrorHandler})
	if userID != "" {
		app.Use(func(c *fiber.Ctx) error {
			c.Locals("userID", userID)
			c.Locals("role", string(models.RoleClient))
			return c.Next()
		})
	}
	app.Post("/api/cases/:id/checkout", h.CreateCheckout)
	app.Post("/api/payments/mock/complete", h.MockComplete)
	return app
}

/* ============================================================================
   Tests — checkout gating, payment application, idempotency
   ============================================================================ */

// Checkout on a draft moves the case to esperando_pago and records the
// session id. Uses the mock provider so no Stripe round-trip happens.
func Test_Checkout_DraftToAwaitingPayment(t *testing.T) {
	t.Setenv("PAYMENT_PROVIDER", "mock")

	db := openTestDB(t)
	clientID, caseID := seedClientCase(t, db, models.CaseDraft, "")

	h := NewHandler(db, nil)
	app := newCheckoutApp(h, clientID.String())

	resp, _ := app.Test(httptest.NewRequest("POST", "/api/cases/"+caseID.String()+"/checkout", nil))
	if resp.StatusCode != 201 {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"session_id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if !strings.HasPrefix(body.SessionID, "mock_") {
		t.Fatalf("mock session expected, got %q", body.SessionID)
	}

	var cs models.Case
	db.First(&cs, "id = ?", caseID)
	if cs.Estado != models.CaseAwaitingPayment {
		t.Fatalf("want esperando_pago, got %s", cs.Estado)
	}
	if cs.StripeSessionID == nil || *cs.StripeSessionID != body.SessionID {
		t.Fatalf("session id not stored")
	}
}

// A stranger cannot start checkout on someone else's claimed case.
func Test_Checkout_NonOwnerForbidden(t *testing.T) {
	t.Setenv("PAYMENT_PROVIDER", "mock")

	db := openTestDB(t)
	_, caseID := seedClientCase(t, db, models.CaseDraft, "")

	h := NewHandler(db, nil)
	app := newCheckoutApp(h, uuid.NewString()) // different user

	resp, _ := app.Test(httptest.NewRequest("POST", "/api/cases/"+caseID.String()+"/checkout", nil))
	if resp.StatusCode != 403 {
		t.Fatalf("want 403, got %d", resp.StatusCode)
	}
}

// Paid and assigned cases are not payable again.
func Test_Checkout_NotPayableStates(t *testing.T) {
	t.Setenv("PAYMENT_PROVIDER", "mock")

	db := openTestDB(t)
	for _, estado := range []models.CaseStatus{
		models.CaseAvailable, models.CaseAssigned, models.CaseExhausted, models.CaseClosed,
	} {
		clientID, caseID := seedClientCase(t, db, estado, "")
		h := NewHandler(db, nil)
		app := newCheckoutApp(h, clientID.String())

		resp, _ := app.Test(httptest.NewRequest("POST", "/api/cases/"+caseID.String()+"/checkout", nil))
		if resp.StatusCode != 409 {
			t.Fatalf("estado %s: want 409, got %d", estado, resp.StatusCode)
		}
	}
}

// Completing a checkout flips the case to disponible, records the
// payment and the event ledger row, and notifies the client.
func Test_ApplyCheckoutCompleted_HappyPath(t *testing.T) {
	db := openTestDB(t)
	session := "cs_test_" + uuid.NewString()[:8]
	clientID, caseID := seedClientCase(t, db, models.CaseAwaitingPayment, session)

	h := NewHandler(db, nil)
	if err := h.ApplyCheckoutCompleted("evt_happy", session, 3750, "eur", "pi_123"); err != nil {
		t.Fatal(err)
	}

	var cs models.Case
	db.First(&cs, "id = ?", caseID)
	if cs.Estado != models.CaseAvailable {
		t.Fatalf("want disponible, got %s", cs.Estado)
	}

	var pay models.Payment
	if err := db.First(&pay, "caso_id = ?", caseID).Error; err != nil {
		t.Fatal(err)
	}
	if pay.Estado != models.PayPaid || pay.MontoCentimos != 3750 {
		t.Fatalf("payment row wrong: %+v", pay)
	}
	if pay.StripePaymentIntent == nil || *pay.StripePaymentIntent != "pi_123" {
		t.Fatalf("intent not stored")
	}

	var n int64
	db.Model(&models.Notification{}).Where("usuario_id = ?", clientID).Count(&n)
	if n != 1 {
		t.Fatalf("client should get 1 notification, got %d", n)
	}

	// The ledger row commits together with the transition.
	var evts int64
	db.Model(&models.WebhookEvent{}).Where("event_id = ?", "evt_happy").Count(&evts)
	if evts != 1 {
		t.Fatalf("ledger row should exist, got %d", evts)
	}
}

// Replaying the same delivery short-circuits at the ledger; a fresh
// event id for an already-paid session is a state-level no-op. Either
// way a single payment row survives.
func Test_ApplyCheckoutCompleted_Idempotent(t *testing.T) {
	db := openTestDB(t)
	session := "cs_test_" + uuid.NewString()[:8]
	_, caseID := seedClientCase(t, db, models.CaseAwaitingPayment, session)

	h := NewHandler(db, nil)
	if err := h.ApplyCheckoutCompleted("evt_a", session, 3750, "eur", ""); err != nil {
		t.Fatal(err)
	}

	// Same event id redelivered.
	err := h.ApplyCheckoutCompleted("evt_a", session, 3750, "eur", "")
	if !errors.Is(err, errDuplicateEvent) {
		t.Fatalf("want duplicate-event error, got %v", err)
	}

	// Different event id, same already-paid session.
	if err := h.ApplyCheckoutCompleted("evt_b", session, 3750, "eur", ""); err != nil {
		t.Fatal(err)
	}

	var pays int64
	db.Model(&models.Payment{}).Where("caso_id = ?", caseID).Count(&pays)
	if pays != 1 {
		t.Fatalf("want exactly 1 payment row, got %d", pays)
	}
}

// A session from another environment is acknowledged without touching
// any case; the event is still recorded for replay detection.
func Test_ApplyCheckoutCompleted_UnknownSession(t *testing.T) {
	db := openTestDB(t)

	h := NewHandler(db, nil)
	if err := h.ApplyCheckoutCompleted("evt_foreign", "cs_test_unknown", 3750, "eur", ""); err != nil {
		t.Fatalf("unknown session should ack, got %v", err)
	}

	var pays int64
	db.Model(&models.Payment{}).Count(&pays)
	if pays != 0 {
		t.Fatalf("no payment rows expected, got %d", pays)
	}

	var evts int64
	db.Model(&models.WebhookEvent{}).Where("event_id = ?", "evt_foreign").Count(&evts)
	if evts != 1 {
		t.Fatalf("ledger should keep the foreign event, got %d", evts)
	}
}

// The mock completion route is gated by env and the dev secret.
func Test_MockComplete_RequiresDevSecret(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("PAYMENT_PROVIDER", "mock")
	t.Setenv("DEV_PAYMENT_SECRET", "s3cret")

	db := openTestDB(t)
	session := "mock_" + uuid.NewString()[:8]
	_, caseID := seedClientCase(t, db, models.CaseAwaitingPayment, session)

	h := NewHandler(db, nil)
	app := newCheckoutApp(h, "")

	body := strings.NewReader(`{"session_id":"` + session + `"}`)
	req := httptest.NewRequest("POST", "/api/payments/mock/complete", body)
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != 401 {
		t.Fatalf("missing secret: want 401, got %d", resp.StatusCode)
	}

	body = strings.NewReader(`{"session_id":"` + session + `"}`)
	req = httptest.NewRequest("POST", "/api/payments/mock/complete", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Dev-Secret", "s3cret")
	resp, _ = app.Test(req)
	if resp.StatusCode != 200 {
		t.Fatalf("with secret: want 200, got %d", resp.StatusCode)
	}

	var cs models.Case
	db.First(&cs, "id = ?", caseID)
	if cs.Estado != models.CaseAvailable {
		t.Fatalf("want disponible, got %s", cs.Estado)
	}
}

// The webhook ledger dedupes by event id at insert time.
func Test_WebhookLedger_DuplicateEventID(t *testing.T) {
	db := openTestDB(t)

	first := models.WebhookEvent{EventID: "evt_1", Tipo: "checkout.session.completed"}
	if err := db.Create(&first).Error; err != nil {
		t.Fatal(err)
	}
	dup := models.WebhookEvent{EventID: "evt_1", Tipo: "checkout.session.completed"}
	if err := db.Create(&dup).Error; err == nil {
		t.Fatal("duplicate event_id must violate the unique index")
	}
}
