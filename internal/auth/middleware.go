package auth

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/klamai/klamai-backend/pkg/models"
)

/* ============================== JWT Claims ============================== */

// Claims represents the JWT payload we issue and expect.
type Claims struct {
	Sub        string `json:"sub"`         // user ID
	Role       string `json:"role"`        // "cliente" | "abogado"
	LawyerType string `json:"lawyer_type"` // "regular" | "super_admin" | ""
	jwt.RegisteredClaims
}

/* ============================== JWT Helpers ============================= */

// IssueToken signs a short-lived JWT (default 7 days) for the given user.
func IssueToken(userID, role, lawyerType string) (string, error) {
	claims := &Claims{
		Sub:        userID,
		Role:       role,
		LawyerType: lawyerType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(7 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(os.Getenv("JWT_SECRET")))
}

/* ============================== Middleware ============================== */

// RequireAuth validates a Bearer JWT and injects userID, role and
// lawyerType into the context.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		h := c.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			return fiber.ErrUnauthorized
		}
		tokenStr := strings.TrimPrefix(h, "Bearer ")

		token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
			return []byte(os.Getenv("JWT_SECRET")), nil
		})
		if err != nil || !token.Valid {
			return fiber.ErrUnauthorized
		}

		claims, ok := token.Claims.(*Claims)
		if !ok {
			return fiber.ErrUnauthorized
		}

		c.Locals("userID", claims.Sub)
		c.Locals("role", claims.Role)
		c.Locals("lawyerType", claims.LawyerType)
		return c.Next()
	}
}

// OptionalAuth injects the caller's identity when a valid Bearer token is
// present and passes anonymous requests through untouched. Used on routes
// like checkout, where unclaimed drafts pay without an account.
func OptionalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		h := c.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			return c.Next()
		}
		tokenStr := strings.TrimPrefix(h, "Bearer ")

		token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
			return []byte(os.Getenv("JWT_SECRET")), nil
		})
		if err != nil || !token.Valid {
			return fiber.ErrUnauthorized
		}
		claims, ok := token.Claims.(*Claims)
		if !ok {
			return fiber.ErrUnauthorized
		}

		c.Locals("userID", claims.Sub)
		c.Locals("role", claims.Role)
		c.Locals("lawyerType", claims.LawyerType)
		return c.Next()
	}
}

// MustUserID reads the authenticated user ID from context or panics (programming error).
func MustUserID(c *fiber.Ctx) string {
	if v := c.Locals("userID"); v != nil {
		return v.(string)
	}
	panic(errors.New("user not in context"))
}

// MustRole reads the authenticated user role from context or panics (programming error).
func MustRole(c *fiber.Ctx) string {
	if v := c.Locals("role"); v != nil {
		return v.(string)
	}
	panic(errors.New("role not in context"))
}

// LawyerType reads the lawyer subtype from context; empty for clients.
func LawyerType(c *fiber.Ctx) string {
	if v := c.Locals("lawyerType"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequireRole ensures the authenticated user has the expected role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if MustRole(c) != role {
			return fiber.ErrForbidden
		}
		return c.Next()
	}
}

// RequireSuperAdmin ensures the actor is a lawyer with the super_admin subtype.
func RequireSuperAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if MustRole(c) != string(models.RoleLawyer) || LawyerType(c) != string(models.LawyerSuperAdmin) {
			return fiber.ErrForbidden
		}
		return c.Next()
	}
}

/* =========================== Error Formatting =========================== */

// httpCodeToString converts an HTTP status code to a short, stable string.
func httpCodeToString(code int) string {
	switch code {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusConflict:
		return "CONFLICT"
	case fiber.StatusUnprocessableEntity:
		return "UNPROCESSABLE_ENTITY"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	default:
		return "INTERNAL_SERVER_ERROR"
	}
}

// ErrorHandler is a global Fiber error handler that returns a consistent JSON shape.
func ErrorHandler(c *fiber.Ctx, err error) error {
	// Defaults
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	// Fiber errors carry status codes
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		if strings.TrimSpace(e.Message) != "" {
			msg = e.Message
		} else {
			msg = fiber.ErrInternalServerError.Message
			switch code {
			case fiber.StatusBadRequest:
				msg = fiber.ErrBadRequest.Message
			case fiber.StatusUnauthorized:
				msg = fiber.ErrUnauthorized.Message
			case fiber.StatusForbidden:
				msg = fiber.ErrForbidden.Message
			case fiber.StatusNotFound:
				msg = fiber.ErrNotFound.Message
			case fiber.StatusConflict:
				msg = fiber.ErrConflict.Message
			}
		}
	}

	return c.Status(code).JSON(models.ErrorResponse{
		Code:    httpCodeToString(code),
		Error:   true,
		Message: msg,
	})
}
