package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/klamai/klamai-backend/internal/notifications"
	"github.com/klamai/klamai-backend/internal/queue"
	"github.com/klamai/klamai-backend/pkg/models"
)

type Handler struct {
	db    *gorm.DB
	tasks *asynq.Client // nil in tests; email enqueue is skipped
}

func NewHandler(db *gorm.DB, tasks *asynq.Client) *Handler {
	return &Handler{db: db, tasks: tasks}
}

// priceCents reads the flat consultation price from the environment.
func priceCents() int64 {
	if v, err := strconv.ParseInt(os.Getenv("CONSULTATION_PRICE_CENTS"), 10, 64); err == nil && v > 0 {
		return v
	}
	return 3750 // default: 37,50 EUR
}

/* ========================= Create Checkout ============================== */

// @Summary      Create checkout session
// @Description  Draft owner starts payment; the case moves to esperando_pago
// @Description  and the caller is redirected to the hosted checkout page.
// @Tags         payments
// @Produce      json
// @Param        id  path  string  true  "case id (uuid)"
// @Success      201  {object}  map[string]any  "redirect_url"
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "case is not payable"
// @Router       /cases/{id}/checkout [post]
func (h *Handler) CreateCheckout(c *fiber.Ctx) error {
	caseID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid case id")
	}

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

	// Drafts (and retries while still unpaid) are the only payable states.
	if cs.Estado != models.CaseDraft && cs.Estado != models.CaseAwaitingPayment {
		tx.Rollback()
		return fiber.NewError(fiber.StatusConflict, "case is not payable")
	}

	// If the caller is authenticated it must be the owner of a claimed case.
	if cs.ClienteID != nil {
		userID, _ := c.Locals("userID").(string)
		if userID != cs.ClienteID.String() {
			tx.Rollback()
			return fiber.ErrForbidden
		}
	}

	amount := priceCents()
	var sessionID, redirectURL string

	if os.Getenv("PAYMENT_PROVIDER") == "mock" {
		// Dev path: no Stripe round-trip, the frontend calls /payments/mock/complete.
		sessionID = "mock_" + uuid.NewString()
		redirectURL = "mock://checkout?session_id=" + sessionID
	} else {
		stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
		params := &stripe.CheckoutSessionParams{
			Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
			LineItems: []*stripe.CheckoutSessionLineItemParams{{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("eur"),
					UnitAmount: stripe.Int64(amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Consulta legal KlamAI"),
					},
				},
				Quantity: stripe.Int64(1),
			}},
			ClientReferenceID: stripe.String(cs.ID.String()),
			SuccessURL:        stripe.String(os.Getenv("CHECKOUT_SUCCESS_URL")),
			CancelURL:         stripe.String(os.Getenv("CHECKOUT_CANCEL_URL")),
		}
		if cs.EmailBorrador != "" {
			params.CustomerEmail = stripe.String(cs.EmailBorrador)
		}
		s, err := session.New(params)
		if err != nil {
			tx.Rollback()
			log.Printf("stripe checkout session: %v", err)
			return fiber.ErrInternalServerError
		}
		sessionID = s.ID
		redirectURL = s.URL
	}

	if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).
		Updates(map[string]any{
			"estado":            models.CaseAwaitingPayment,
			"stripe_session_id": sessionID,
		}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}

	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id":   sessionID,
		"redirect_url": redirectURL,
		"amount_cents": amount,
	})
}

/* ============================ Stripe webhook ============================ */

// @Summary      Stripe webhook
// @Description  Verifies the event signature, dedupes by event id and, on
// @Description  checkout completion, flips esperando_pago to disponible.
// @Tags         payments
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]bool  "received"
// @Failure      400  {object}  models.ErrorResponse  "bad signature"
// @Router       /payments/stripe/webhook [post]
func (h *Handler) StripeWebhook(c *fiber.Ctx) error {
	event, err := webhook.ConstructEvent(c.Body(), c.Get("Stripe-Signature"),
		os.Getenv("STRIPE_WEBHOOK_SECRET"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid signature")
	}

	switch event.Type {
	case "checkout.session.completed":
		var cse stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cse); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "malformed event payload")
		}
		var intentID string
		if cse.PaymentIntent != nil {
			intentID = cse.PaymentIntent.ID
		}
		err := h.ApplyCheckoutCompleted(event.ID, cse.ID, cse.AmountTotal,
			string(cse.Currency), intentID)
		if errors.Is(err, errDuplicateEvent) {
			return c.JSON(fiber.Map{"received": true, "duplicate": true})
		}
		if err != nil {
			// Nothing committed, ledger row included; Stripe's redelivery
			// retries the whole transition.
			return fiber.ErrInternalServerError
		}
	default:
		// Unknown event types are acknowledged but ignored; they are still
		// recorded so a replay is visible as a duplicate.
		if err := recordEvent(h.db, event.ID, string(event.Type)); err != nil {
			if errors.Is(err, errDuplicateEvent) {
				return c.JSON(fiber.Map{"received": true, "duplicate": true})
			}
			return fiber.ErrInternalServerError
		}
	}

	return c.JSON(fiber.Map{"received": true})
}

// errDuplicateEvent marks a webhook delivery whose event id is already in
// the ledger.
var errDuplicateEvent = errors.New("webhook event already processed")

// recordEvent inserts the ledger row for an event id; the unique index
// turns a replayed delivery into errDuplicateEvent. The violation is read
// off the driver error because inside a transaction the session is
// aborted and cannot be re-queried.
func recordEvent(db *gorm.DB, eventID, tipo string) error {
	err := db.Create(&models.WebhookEvent{EventID: eventID, Tipo: tipo}).Error
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errDuplicateEvent
	}
	return err
}

// ApplyCheckoutCompleted performs the single externally-authoritative
// transition: the case matching the checkout session goes from
// esperando_pago to disponible, with the ledger row, the payment row and
// the client notification committed in one transaction. The ledger row
// committing together with the transition means a crash mid-processing
// leaves no row behind, so Stripe's redelivery is processed instead of
// being mistaken for a duplicate. eventID may be empty (dev mock path).
func (h *Handler) ApplyCheckoutCompleted(eventID, sessionID string, amount int64, currency, intentID string) error {
	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if eventID != "" {
		if err := recordEvent(tx, eventID, "checkout.session.completed"); err != nil {
			tx.Rollback()
			return err
		}
	}

	var cs models.Case
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&cs, "stripe_session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Session belongs to another environment; keep the ledger row and
		// acknowledge.
		log.Printf("checkout completed for unknown session %s", sessionID)
		return tx.Commit().Error
	}
	if err != nil {
		tx.Rollback()
		return err
	}

	if cs.Estado != models.CaseAwaitingPayment {
		// Already processed (idempotent); keep the ledger row.
		return tx.Commit().Error
	}

	if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).
		Update("estado", models.CaseAvailable).Error; err != nil {
		tx.Rollback()
		return err
	}

	if currency == "" {
		currency = "eur"
	}
	pay := models.Payment{
		CasoID:          cs.ID,
		UsuarioID:       cs.ClienteID,
		MontoCentimos:   int(amount),
		Moneda:          currency,
		StripeSessionID: &sessionID,
		Estado:          models.PayPaid,
	}
	if intentID != "" {
		pay.StripePaymentIntent = &intentID
	}
	if err := tx.Create(&pay).Error; err != nil {
		tx.Rollback()
		return err
	}

	if cs.ClienteID != nil {
		if err := notifications.Notify(tx, *cs.ClienteID,
			"Pago confirmado: tu caso ya está disponible para asignación",
			"/casos/"+cs.ID.String()); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	h.enqueueReceipt(&cs, amount, currency)
	return nil
}

// enqueueReceipt queues the payment receipt email, best effort.
func (h *Handler) enqueueReceipt(cs *models.Case, amount int64, currency string) {
	if h.tasks == nil {
		return
	}

	to := cs.EmailBorrador
	if cs.ClienteID != nil {
		var p models.Profile
		if err := h.db.First(&p, "id = ?", *cs.ClienteID).Error; err == nil {
			to = p.Email
		}
	}
	if to == "" {
		return
	}

	if err := queue.EnqueueEmail(context.Background(), h.tasks, queue.EmailPayload{
		Kind: queue.EmailPaymentReceipt,
		To:   to,
		Params: map[string]string{
			"importe": fmt.Sprintf("%.2f %s", float64(amount)/100, currency),
			"caso":    cs.ID.String(),
		},
	}); err != nil {
		log.Printf("enqueue receipt email: %v", err)
	}
}

/* ========================= Mock Complete (dev) ========================== */

// Body: { "session_id": "mock_..." }
// Header: X-Dev-Secret: <DEV_PAYMENT_SECRET>
type mockCompleteReq struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) MockComplete(c *fiber.Ctx) error {
	if os.Getenv("APP_ENV") != "dev" || os.Getenv("PAYMENT_PROVIDER") != "mock" {
		return fiber.ErrNotFound
	}
	if c.Get("X-Dev-Secret") == "" || c.Get("X-Dev-Secret") != os.Getenv("DEV_PAYMENT_SECRET") {
		return fiber.NewError(fiber.StatusUnauthorized, "missing/invalid X-Dev-Secret")
	}
	var in mockCompleteReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	if in.SessionID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "session_id required")
	}

	if err := h.ApplyCheckoutCompleted("", in.SessionID, priceCents(), "eur", ""); err != nil {
		return fiber.ErrInternalServerError
	}
	return c.JSON(fiber.Map{"ok": true})
}
