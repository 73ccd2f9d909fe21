package payouts

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/eventpass-backend/api/middleware"
	"github.com/angelmondragon/eventpass-backend/api/responses"
	"github.com/angelmondragon/eventpass-backend/api/validators"
	internalpayouts "github.com/angelmondragon/eventpass-backend/internal/payouts"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type figuresView struct {
	BaseFare    decimal.Decimal `json:"baseFare"`
	FinalFare   decimal.Decimal `json:"finalFare"`
	TicketsSold int             `json:"ticketsSold"`
	PlatformFee decimal.Decimal `json:"platformFee"`
	HostEarning decimal.Decimal `json:"hostEarning"`
}

type requestView struct {
	ID      uuid.UUID `json:"id"`
	EventID uuid.UUID `json:"eventId"`
	figuresView
	CreatedAt time.Time `json:"createdAt"`
}

// SnapshotView is the frozen payout record returned to staff.
type SnapshotView struct {
	ID               uuid.UUID                  `json:"id"`
	EventID          uuid.UUID                  `json:"eventId"`
	Source           enums.PayoutSnapshotSource `json:"source"`
	FeeConfigVersion *int                       `json:"feeConfigVersion,omitempty"`
	figuresView
	CapturedAt   time.Time  `json:"capturedAt"`
	RebuiltAt    *time.Time `json:"rebuiltAt,omitempty"`
	RebuiltBy    *uuid.UUID `json:"rebuiltBy,omitempty"`
	RebuildCount int        `json:"rebuildCount"`
}

func NewSnapshotView(s *models.PayoutSnapshot) SnapshotView {
	return SnapshotView{
		ID:               s.ID,
		EventID:          s.EventID,
		Source:           s.Source,
		FeeConfigVersion: s.FeeConfigVersion,
		figuresView: figuresView{
			BaseFare:    s.BaseFare,
			FinalFare:   s.FinalFare,
			TicketsSold: s.TicketsSold,
			PlatformFee: s.PlatformFee,
			HostEarning: s.HostEarning,
		},
		CapturedAt:   s.CapturedAt,
		RebuiltAt:    s.RebuiltAt,
		RebuiltBy:    s.RebuiltBy,
		RebuildCount: s.RebuildCount,
	}
}

// RequestPayout records the host's payout figures for an event, once.
func RequestPayout(svc internalpayouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		host, err := middleware.RequireActor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		request, err := svc.RequestPayout(ctx, eventID, host)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, requestView{
			ID:      request.ID,
			EventID: request.EventID,
			figuresView: figuresView{
				BaseFare:    request.BaseFare,
				FinalFare:   request.FinalFare,
				TicketsSold: request.TicketsSold,
				PlatformFee: request.PlatformFee,
				HostEarning: request.HostEarning,
			},
			CreatedAt: request.CreatedAt,
		})
	}
}

// Summary returns the captured snapshot, or live figures before capture.
func Summary(svc internalpayouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		requester, err := middleware.RequireActor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		summary, err := svc.LiveSummary(ctx, eventID, requester)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// RebuildSnapshot recomputes a captured snapshot on explicit staff request.
func RebuildSnapshot(svc internalpayouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		actor, err := middleware.RequireActor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		snapshot, err := svc.RebuildSnapshot(ctx, eventID, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, NewSnapshotView(snapshot))
	}
}
