package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpass-backend/api/responses"
	"github.com/angelmondragon/eventpass-backend/api/validators"
	"github.com/angelmondragon/eventpass-backend/internal/reconcile"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
	"github.com/angelmondragon/eventpass-backend/pkg/pagination"
)

const (
	defaultCallbackLimit = 50
	maxCallbackLimit     = 200
)

type callbackLister interface {
	ListCallbacks(ctx context.Context, filter reconcile.CallbackFilter) (*reconcile.CallbackPage, error)
}

type callbackPageView struct {
	Items      []callbackView `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

type callbackView struct {
	ID                uuid.UUID            `json:"id"`
	Provider          string               `json:"provider"`
	Source            enums.CallbackSource `json:"source"`
	ExternalOrderID   string               `json:"externalOrderId"`
	OrderID           *uuid.UUID           `json:"orderId,omitempty"`
	Outcome           string               `json:"outcome"`
	Result            enums.CallbackResult `json:"result"`
	Flagged           bool                 `json:"flagged"`
	Detail            *string              `json:"detail,omitempty"`
	ProviderPaymentID *string              `json:"providerPaymentId,omitempty"`
	Payload           json.RawMessage      `json:"payload,omitempty"`
	ReceivedAt        time.Time            `json:"receivedAt"`
}

// GatewayCallbacks lists the callback audit trail for staff review.
func GatewayCallbacks(svc callbackLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
			return
		}

		flagged, err := validators.ParseQueryBool(r, "flagged")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseLimit(r, defaultCallbackLimit, maxCallbackLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		after, err := pagination.Decode(r.URL.Query().Get("cursor"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").WithDetails(map[string]any{"field": "cursor"}))
			return
		}
		filter := reconcile.CallbackFilter{FlaggedOnly: flagged, After: after, Limit: limit}
		if raw := strings.TrimSpace(r.URL.Query().Get("orderId")); raw != "" {
			orderID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid orderId").WithDetails(map[string]any{"field": "orderId"}))
				return
			}
			filter.OrderID = &orderID
		}

		page, err := svc.ListCallbacks(ctx, filter)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		views := make([]callbackView, 0, len(page.Items))
		for _, row := range page.Items {
			views = append(views, callbackView{
				ID:                row.ID,
				Provider:          row.Provider,
				Source:            row.Source,
				ExternalOrderID:   row.ExternalOrderID,
				OrderID:           row.OrderID,
				Outcome:           row.Outcome,
				Result:            row.Result,
				Flagged:           row.Flagged,
				Detail:            row.Detail,
				ProviderPaymentID: row.ProviderPaymentID,
				Payload:           row.Payload,
				ReceivedAt:        row.ReceivedAt,
			})
		}
		responses.WriteSuccess(w, callbackPageView{Items: views, NextCursor: page.NextCursor})
	}
}
