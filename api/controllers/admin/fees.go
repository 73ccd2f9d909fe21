package admin

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/api/middleware"
	"github.com/angelmondragon/eventpass-backend/api/responses"
	"github.com/angelmondragon/eventpass-backend/api/validators"
	"github.com/angelmondragon/eventpass-backend/internal/fees"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type updateFeeRequest struct {
	Percentage *decimal.Decimal `json:"percentage" validate:"required"`
}

type feeConfigView struct {
	ID          uuid.UUID       `json:"id"`
	Version     int             `json:"version"`
	Percentage  decimal.Decimal `json:"percentage"`
	EffectiveAt time.Time       `json:"effectiveAt"`
	UpdatedBy   *uuid.UUID      `json:"updatedBy,omitempty"`
}

func newFeeConfigView(cfg *models.PlatformFeeConfig) feeConfigView {
	return feeConfigView{
		ID:          cfg.ID,
		Version:     cfg.Version,
		Percentage:  cfg.Percentage,
		EffectiveAt: cfg.EffectiveAt,
		UpdatedBy:   cfg.UpdatedBy,
	}
}

// CurrentFeeConfig returns the fee configuration new orders are priced with.
func CurrentFeeConfig(svc fees.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fee service unavailable"))
			return
		}
		responses.WriteSuccess(w, svc.Current(r.Context()))
	}
}

// UpdateFeeConfig appends a new fee configuration version.
func UpdateFeeConfig(svc fees.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fee service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req updateFeeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		cfg, err := svc.UpdateConfig(ctx, fees.UpdateInput{Percentage: *req.Percentage, ActorID: actor.UserID})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newFeeConfigView(cfg))
	}
}

// FeeConfigHistory lists past fee versions, newest first.
func FeeConfigHistory(svc fees.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fee service unavailable"))
			return
		}
		limit, err := validators.ParseLimit(r, defaultHistoryLimit, maxHistoryLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		rows, err := svc.History(ctx, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		views := make([]feeConfigView, 0, len(rows))
		for i := range rows {
			views = append(views, newFeeConfigView(&rows[i]))
		}
		responses.WriteSuccess(w, views)
	}
}
