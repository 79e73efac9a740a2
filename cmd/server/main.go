// @title           KlamAI API
// @version         1.0
// @description     Backend for KlamAI: clients open legal consultations, pay via Stripe, and super admins route the paid cases to lawyers.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/klamai/klamai-backend/internal/assignments"
	"github.com/klamai/klamai-backend/internal/auth"
	"github.com/klamai/klamai-backend/internal/cases"
	"github.com/klamai/klamai-backend/internal/documents"
	"github.com/klamai/klamai-backend/internal/lawyers"
	"github.com/klamai/klamai-backend/internal/notifications"
	"github.com/klamai/klamai-backend/internal/payments"
	"github.com/klamai/klamai-backend/internal/storage"
	"github.com/klamai/klamai-backend/pkg/database"
	"github.com/klamai/klamai-backend/pkg/models"
)

func main() {
	_ = godotenv.Load()

	db := database.Init()
	if err := db.AutoMigrate(
		&models.Profile{}, &models.Specialty{}, &models.Case{}, &models.Assignment{},
		&models.Payment{}, &models.ClientDocument{}, &models.LawyerDocument{},
		&models.Notification{}, &models.WebhookEvent{}, &models.LawyerRequest{},
		&models.SecurityAudit{},
	); err != nil {
		log.Fatal("migration failed:", err)
	}

	// Emails go through Redis so a mail outage never loses a send.
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}
	tasks := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer tasks.Close()

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api")

	// Auth
	authH := auth.NewHandler(db)
	api.Post("/signup", authH.Signup)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)

	// Storage helper (SUPABASE_URL / SUPABASE_SECRET_KEY / SUPABASE_BUCKET)
	sb := storage.NewSupabase()

	// Cases
	caseH := cases.NewHandler(db)
	api.Post("/cases/draft", caseH.CreateDraft) // anonymous intake
	api.Post("/cases", auth.RequireAuth(), auth.RequireRole(string(models.RoleClient)), caseH.Create)
	api.Get("/cases/mine", auth.RequireAuth(), auth.RequireRole(string(models.RoleClient)), caseH.ListMine)
	api.Get("/cases/:id", auth.RequireAuth(), caseH.GetDetail)
	api.Post("/cases/:id/close", auth.RequireAuth(), auth.RequireRole(string(models.RoleLawyer)), caseH.Close)
	api.Post("/cases/:id/exhaust", auth.RequireAuth(), auth.RequireSuperAdmin(), caseH.Exhaust)

	// Lawyer board (anonymized previews of DISPONIBLE cases)
	api.Get("/board", auth.RequireAuth(), auth.RequireRole(string(models.RoleLawyer)), caseH.Board)

	// Assignments
	assignH := assignments.NewHandler(db, tasks)
	api.Post("/assignments", auth.RequireAuth(), auth.RequireSuperAdmin(), assignH.Assign)
	api.Get("/assignments/mine", auth.RequireAuth(), auth.RequireRole(string(models.RoleLawyer)), assignH.ListMine)

	// Documents
	docH := documents.NewHandler(db, sb)
	api.Post("/cases/:id/documents", auth.RequireAuth(), docH.Upload)
	api.Get("/documents/:id/signed-url", auth.RequireAuth(), docH.SignedURL)
	api.Delete("/documents/:id", auth.RequireAuth(), docH.Delete)

	// Payments
	payH := payments.NewHandler(db, tasks)
	api.Post("/cases/:id/checkout", auth.OptionalAuth(), payH.CreateCheckout) // drafts pay anonymously

	// Stripe webhook (server-to-server, signature-verified, no JWT)
	api.Post("/payments/stripe/webhook", payH.StripeWebhook)

	// Only in dev mode with the mock payment provider
	if os.Getenv("APP_ENV") == "dev" && os.Getenv("PAYMENT_PROVIDER") == "mock" {
		api.Post("/payments/mock/complete", payH.MockComplete) // protected by X-Dev-Secret
	}

	// Lawyer onboarding
	lawH := lawyers.NewHandler(db, tasks)
	api.Post("/solicitudes-abogado", lawH.Apply)
	api.Get("/solicitudes-abogado", auth.RequireAuth(), auth.RequireSuperAdmin(), lawH.List)
	api.Post("/solicitudes-abogado/:id/approve", auth.RequireAuth(), auth.RequireSuperAdmin(), lawH.Approve)
	api.Post("/solicitudes-abogado/:id/reject", auth.RequireAuth(), auth.RequireSuperAdmin(), lawH.Reject)

	// Notifications
	notifH := notifications.NewHandler(db)
	api.Get("/notifications", auth.RequireAuth(), notifH.List)
	api.Post("/notifications/:id/read", auth.RequireAuth(), notifH.MarkRead)
	api.Post("/notifications/read-all", auth.RequireAuth(), notifH.MarkAllRead)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}
	log.Println("Server running on :" + port)
	log.Fatal(app.Listen(":" + port))
}
