package audit

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/klamai/klamai-backend/pkg/models"
)

// Log inserts a row into auditoria_seguridad.
// Used to track sensitive actions (assignment, closure, document deletion).
// Errors are ignored on purpose (best-effort logging).
func Log(ctx context.Context, db *gorm.DB, actorID *uuid.UUID, accion, tabla, registroID, detalle string) {
	_ = db.WithContext(ctx).Create(&models.SecurityAudit{
		ActorID:    actorID,
		Accion:     accion,
		Tabla:      tabla,
		RegistroID: registroID,
		Detalle:    detalle,
	}).Error
}
