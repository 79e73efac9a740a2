// Package access is the single authority for case-level authorization.
// Every mutating entry point routes its decision through Check instead of
// re-implementing role/assignment lookups per handler.
package access

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/klamai/klamai-backend/internal/auth"
	"github.com/klamai/klamai-backend/pkg/models"
)

// Operation is the action an actor wants to perform on a case.
type Operation string

const (
	OpView           Operation = "view"
	OpUpdate         Operation = "update"
	OpAssign         Operation = "assign"
	OpClose          Operation = "close"
	OpUploadDocument Operation = "upload_document"
	OpDeleteDocument Operation = "delete_document"
)

// mutating reports whether the operation changes state. Closed cases veto
// every mutating operation regardless of role.
func (op Operation) mutating() bool { return op != OpView }

// Actor is the authenticated identity a decision is made for.
type Actor struct {
	ID         uuid.UUID
	Role       models.Role
	LawyerType models.LawyerType
}

// ActorFromCtx builds an Actor from the locals the auth middleware set.
func ActorFromCtx(c *fiber.Ctx) Actor {
	id, _ := uuid.Parse(auth.MustUserID(c))
	return Actor{
		ID:         id,
		Role:       models.Role(auth.MustRole(c)),
		LawyerType: models.LawyerType(auth.LawyerType(c)),
	}
}

// IsSuperAdmin reports whether the actor bypasses per-case checks.
func (a Actor) IsSuperAdmin() bool {
	return a.Role == models.RoleLawyer && a.LawyerType == models.LawyerSuperAdmin
}

// Check decides whether actor may perform op on the case. It returns nil
// when allowed and a fiber error (403 or 409) otherwise.
//
// Precedence:
//  1. A closed case rejects every mutating operation.
//  2. Super admin: allowed for every case and remaining operation.
//  3. Assign is reserved to super admins.
//  4. Regular lawyer: allowed only with an assignment row (activa or
//     completada) linking them to the case. Draft cases can never have
//     one, so they stay invisible to lawyers.
//  5. Client: allowed only when the case's client reference is the actor.
//  6. Otherwise: denied.
func Check(db *gorm.DB, actor Actor, cs *models.Case, op Operation) error {
	if cs.Estado == models.CaseClosed && op.mutating() {
		return fiber.NewError(fiber.StatusConflict, "case is closed")
	}

	if actor.IsSuperAdmin() {
		return nil
	}

	if op == OpAssign {
		return fiber.ErrForbidden
	}

	switch actor.Role {
	case models.RoleLawyer:
		var cnt int64
		if err := db.Model(&models.Assignment{}).
			Where("caso_id = ? AND abogado_id = ? AND estado IN ?",
				cs.ID, actor.ID,
				[]models.AssignmentStatus{models.AssignmentActive, models.AssignmentCompleted}).
			Count(&cnt).Error; err != nil {
			return fiber.ErrInternalServerError
		}
		if cnt > 0 {
			return nil
		}
	case models.RoleClient:
		// Closure is reserved to the assigned lawyer or a super admin.
		if op == OpClose {
			return fiber.ErrForbidden
		}
		if cs.ClienteID != nil && *cs.ClienteID == actor.ID {
			return nil
		}
	}

	return fiber.ErrForbidden
}

// CheckByID loads the case and delegates to Check. Returns 404 when the
// case does not exist.
func CheckByID(db *gorm.DB, actor Actor, caseID uuid.UUID, op Operation) (*models.Case, error) {
	var cs models.Case
	if err := db.First(&cs, "id = ?", caseID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fiber.ErrNotFound
		}
		return nil, fiber.ErrInternalServerError
	}
	if err := Check(db, actor, &cs, op); err != nil {
		return nil, err
	}
	return &cs, nil
}
