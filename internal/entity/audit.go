package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ActorType string

const (
	ActorSystem  ActorType = "SYSTEM"
	ActorWebhook ActorType = "WEBHOOK"
	ActorUser    ActorType = "USER"
	ActorAdmin   ActorType = "ADMIN"
)

type Actor struct {
	Type ActorType  `json:"type"`
	ID   *uuid.UUID `json:"id,omitempty"`
}

// AuditEntry records one accepted status transition. Append-only;
// PreviousStatus is nil for the creation entry.
type AuditEntry struct {
	ID             uuid.UUID       `json:"id"`
	PaymentID      uuid.UUID       `json:"payment_id"`
	PreviousStatus *PaymentStatus  `json:"previous_status,omitempty"`
	NewStatus      PaymentStatus   `json:"new_status"`
	Message        string          `json:"message"`
	Actor          Actor           `json:"actor"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
