package notifications

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/klamai/klamai-backend/pkg/models"
)

// Notify inserts a notification row for the given user. Call it with the
// transaction handle of the state change that triggered it so the row
// commits (or rolls back) together with the change.
func Notify(tx *gorm.DB, userID uuid.UUID, mensaje, urlDestino string) error {
	return tx.Create(&models.Notification{
		UsuarioID:  userID,
		Mensaje:    mensaje,
		URLDestino: urlDestino,
	}).Error
}
