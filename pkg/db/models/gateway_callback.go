package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/pkg/enums"
)

// GatewayCallback is the audit trail of every gateway outcome the service saw.
type GatewayCallback struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Provider          string               `gorm:"column:provider;not null"`
	Source            enums.CallbackSource `gorm:"column:source;not null"`
	ExternalOrderID   string               `gorm:"column:external_order_id;not null"`
	OrderID           *uuid.UUID           `gorm:"column:order_id;type:uuid"`
	Outcome           string               `gorm:"column:outcome;not null"`
	Result            enums.CallbackResult `gorm:"column:result;type:callback_result;not null"`
	Flagged           bool                 `gorm:"column:flagged;not null;default:false"`
	Detail            *string              `gorm:"column:detail"`
	ProviderPaymentID *string              `gorm:"column:provider_payment_id"`
	Payload           json.RawMessage      `gorm:"column:payload;type:jsonb"`
	ReceivedAt        time.Time            `gorm:"column:received_at;not null"`
}
