package reservations

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/api/middleware"
	"github.com/angelmondragon/eventpass-backend/api/responses"
	"github.com/angelmondragon/eventpass-backend/api/validators"
	internalreservations "github.com/angelmondragon/eventpass-backend/internal/reservations"
	"github.com/angelmondragon/eventpass-backend/pkg/auth"
	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

// View is the client-facing shape of a capacity reservation. The key is the
// bearer credential the requester later presents at checkout.
type View struct {
	ReservationKey string                  `json:"reservationKey"`
	EventID        uuid.UUID               `json:"eventId"`
	RequesterID    uuid.UUID               `json:"requesterId"`
	Seats          int                     `json:"seats"`
	Status         enums.ReservationStatus `json:"status"`
	ExpiresAt      time.Time               `json:"expiresAt"`
	ReleaseReason  *string                 `json:"releaseReason,omitempty"`
}

func newView(r *models.CapacityReservation) View {
	return View{
		ReservationKey: r.ReservationKey,
		EventID:        r.EventID,
		RequesterID:    r.RequesterID,
		Seats:          r.Seats,
		Status:         r.Status,
		ExpiresAt:      r.ExpiresAt,
		ReleaseReason:  r.ReleaseReason,
	}
}

type holdRequest struct {
	RequesterID string `json:"requesterId" validate:"required,uuid"`
	Seats       int    `json:"seats" validate:"required,min=1"`
}

// Hold is the host approving a join request: seats are claimed and the
// requester receives a reservation key.
func Hold(svc internalreservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}
		approver, err := middleware.RequireActor(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req holdRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		requesterID, err := uuid.Parse(req.RequesterID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid requesterId"))
			return
		}

		reservation, err := svc.Hold(ctx, internalreservations.HoldInput{
			EventID:     eventID,
			RequesterID: requesterID,
			Seats:       req.Seats,
			Approver:    approver,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newView(reservation))
	}
}

// Get returns a reservation to its requester, the event host or staff.
func Get(svc internalreservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, key, err := keyAndActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		reservation, err := svc.Get(ctx, key, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newView(reservation))
	}
}

// Cancel releases a held reservation that has no open payment order.
func Cancel(svc internalreservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		actor, key, err := keyAndActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		reservation, err := svc.Cancel(ctx, key, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newView(reservation))
	}
}

func keyAndActor(r *http.Request) (auth.Actor, string, error) {
	actor, err := middleware.RequireActor(r.Context())
	if err != nil {
		return auth.Actor{}, "", err
	}
	key := validators.Clip(chi.URLParam(r, "reservationKey"), 128)
	if key == "" || strings.ContainsAny(key, " /") {
		return auth.Actor{}, "", pkgerrors.New(pkgerrors.CodeValidation, "reservationKey is required")
	}
	return actor, key, nil
}
