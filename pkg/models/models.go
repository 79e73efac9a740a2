package models

import (
	"time"

	"github.com/google/uuid"
)

/* =============================== Enums ================================== */

// Role defines the type of user in the system.
type Role string

const (
	RoleClient Role = "cliente"
	RoleLawyer Role = "abogado"
)

// LawyerType distinguishes regular lawyers from super admins.
// Empty for clients.
type LawyerType string

const (
	LawyerRegular    LawyerType = "regular"
	LawyerSuperAdmin LawyerType = "super_admin"
)

// CaseStatus defines lifecycle states for a case.
type CaseStatus string

const (
	CaseDraft           CaseStatus = "borrador"
	CaseAwaitingPayment CaseStatus = "esperando_pago"
	CaseAvailable       CaseStatus = "disponible"
	CaseAssigned        CaseStatus = "asignado"
	CaseExhausted       CaseStatus = "agotado"
	CaseClosed          CaseStatus = "cerrado"
)

// AssignmentStatus defines lifecycle states for a case assignment.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "activa"
	AssignmentCompleted AssignmentStatus = "completada"
)

// PayStatus defines lifecycle states for a payment.
type PayStatus string

const (
	PayInitiated PayStatus = "iniciado"
	PayPaid      PayStatus = "pagado"
	PayFailed    PayStatus = "fallido"
)

// RequestStatus defines lifecycle states for a lawyer onboarding request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pendiente"
	RequestApproved RequestStatus = "aprobada"
	RequestRejected RequestStatus = "rechazada"
)

/* =============================== Entities =============================== */

// Profile represents an authenticated actor: a client or a lawyer
// (regular or super admin). Every permission decision starts here.
type Profile struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email        string     `gorm:"uniqueIndex;not null"`
	PasswordHash string     `gorm:"not null"`
	Role         Role       `gorm:"type:varchar(20);not null"`
	TipoAbogado  LawyerType `gorm:"type:varchar(20);default:''"`
	Nombre       string
	// Lawyer-only attributes
	NumeroColegiado string
	EspecialidadID  *int
	// Client-only attributes
	CreditosDisponibles int `gorm:"default:0"`
	CreatedAt           time.Time
}

func (Profile) TableName() string { return "profiles" }

// Case represents a client's legal matter and its lifecycle state.
// A draft case may exist before any account does, so ClienteID is
// nullable and the draft contact fields hold the requester info.
type Case struct {
	ID             uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ClienteID      *uuid.UUID `gorm:"type:uuid;index"`
	NombreBorrador string
	EmailBorrador  string
	EspecialidadID int        `gorm:"index"`
	MotivoConsulta string     `gorm:"type:text"`
	Estado         CaseStatus `gorm:"type:varchar(20);default:'borrador';index"`

	// Checkout session that gates the borrador -> esperando_pago -> disponible path.
	StripeSessionID *string `gorm:"uniqueIndex:ux_casos_session_filled"`

	// Set when Estado becomes cerrado. Estado=cerrado implies both are non-nil.
	FechaCierre *time.Time
	CerradoPor  *uuid.UUID `gorm:"type:uuid"`

	CreatedAt time.Time
	UpdatedAt time.Time

	// Relations
	Asignaciones []Assignment `gorm:"foreignKey:CasoID"`
}

func (Case) TableName() string { return "casos" }

// Assignment links a case to the lawyer responsible for it.
// At most one active row per case; the pair index backstops the upsert.
type Assignment struct {
	ID              uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CasoID          uuid.UUID        `gorm:"type:uuid;not null;index:idx_caso_abogado,unique"`
	AbogadoID       uuid.UUID        `gorm:"type:uuid;not null;index:idx_caso_abogado,unique"`
	AsignadoPor     uuid.UUID        `gorm:"type:uuid;not null"`
	Notas           string           `gorm:"type:text"`
	Estado          AssignmentStatus `gorm:"type:varchar(20);default:'activa'"`
	FechaAsignacion time.Time        `gorm:"autoCreateTime"`
	UpdatedAt       time.Time
}

func (Assignment) TableName() string { return "asignaciones_casos" }

// Payment records a confirmed (or attempted) charge for a case.
type Payment struct {
	ID                  uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CasoID              uuid.UUID  `gorm:"type:uuid;not null;index"`
	UsuarioID           *uuid.UUID `gorm:"type:uuid"`
	MontoCentimos       int        `gorm:"not null"` // stored in cents to avoid float issues
	Moneda              string     `gorm:"type:varchar(3);default:'eur'"`
	StripeSessionID     *string    `gorm:"uniqueIndex:ux_pagos_session_filled"`
	StripePaymentIntent *string    `gorm:"uniqueIndex:ux_pagos_intent_filled"`
	Estado              PayStatus  `gorm:"type:varchar(20);default:'iniciado'"`
	CreatedAt           time.Time  `gorm:"not null;default:now()"`
	UpdatedAt           time.Time  `gorm:"not null;default:now()"`
}

func (Payment) TableName() string { return "pagos" }

// ClientDocument is a file a client attached to their case.
// Client and lawyer documents live in parallel tables on purpose:
// row-level policies on the backend differ per table.
type ClientDocument struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CasoID        uuid.UUID `gorm:"type:uuid;not null;index"`
	SubidoPor     uuid.UUID `gorm:"type:uuid;not null"`
	TipoDocumento string    `gorm:"type:varchar(40)"`
	RutaArchivo   string    `gorm:"not null"`
	TamanoBytes   int64     `gorm:"not null"`
	Descripcion   string
	CreatedAt     time.Time

	Caso Case `gorm:"foreignKey:CasoID;references:ID"`
}

func (ClientDocument) TableName() string { return "documentos_cliente" }

// LawyerDocument is a work product file a lawyer attached to a case.
type LawyerDocument struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CasoID        uuid.UUID `gorm:"type:uuid;not null;index"`
	SubidoPor     uuid.UUID `gorm:"type:uuid;not null"`
	TipoDocumento string    `gorm:"type:varchar(40)"`
	RutaArchivo   string    `gorm:"not null"`
	TamanoBytes   int64     `gorm:"not null"`
	Descripcion   string
	CreatedAt     time.Time

	Caso Case `gorm:"foreignKey:CasoID;references:ID"`
}

func (LawyerDocument) TableName() string { return "documentos_abogado" }

// Notification is a user-facing message written when state changes occur.
type Notification struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UsuarioID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Mensaje    string    `gorm:"not null"`
	URLDestino string
	Leida      bool      `gorm:"default:false"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (Notification) TableName() string { return "notificaciones" }

// WebhookEvent is the idempotency ledger for Stripe webhook deliveries.
// EventID is the externally-assigned event id; the unique index makes
// replayed deliveries detectable before any processing happens.
type WebhookEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	EventID     string    `gorm:"uniqueIndex;not null"`
	Tipo        string    `gorm:"type:varchar(60)"`
	ProcessedAt time.Time `gorm:"autoCreateTime"`
}

func (WebhookEvent) TableName() string { return "stripe_webhook_events" }

// LawyerRequest is an onboarding application from a prospective lawyer.
// Approval provisions a Profile with Role=abogado.
type LawyerRequest struct {
	ID              uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Nombre          string        `gorm:"not null"`
	Email           string        `gorm:"uniqueIndex;not null"`
	NumeroColegiado string        `gorm:"not null"`
	EspecialidadID  int
	Motivacion      string        `gorm:"type:text"`
	Estado          RequestStatus `gorm:"type:varchar(20);default:'pendiente';index"`
	RevisadoPor     *uuid.UUID    `gorm:"type:uuid"`
	NotasRevision   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (LawyerRequest) TableName() string { return "solicitudes_abogado" }

// Specialty is a legal specialty; cases and lawyers reference it.
type Specialty struct {
	ID     int    `gorm:"primaryKey"`
	Nombre string `gorm:"uniqueIndex;not null"`
}

func (Specialty) TableName() string { return "especialidades" }

// SecurityAudit is a best-effort audit log entry for sensitive actions.
type SecurityAudit struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	ActorID    *uuid.UUID `gorm:"type:uuid;index"`
	Accion     string     `gorm:"type:varchar(50);not null"` // e.g. caso_asignado, caso_cerrado, documento_eliminado
	Tabla      string     `gorm:"type:varchar(50)"`
	RegistroID string     `gorm:"type:varchar(64)"`
	Detalle    string     `gorm:"type:text"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
}

func (SecurityAudit) TableName() string { return "auditoria_seguridad" }
