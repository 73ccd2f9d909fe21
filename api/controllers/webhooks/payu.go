package webhooks

import (
	"context"
	"net/http"
	"net/url"

	"github.com/angelmondragon/eventpass-backend/api/responses"
	"github.com/angelmondragon/eventpass-backend/internal/gateway"
	"github.com/angelmondragon/eventpass-backend/internal/reconcile"
	"github.com/angelmondragon/eventpass-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/eventpass-backend/pkg/errors"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

type callbackParser interface {
	Name() string
	ParseCallback(ctx context.Context, form url.Values) (*gateway.Callback, error)
}

type callbackReconciler interface {
	ApplyCallback(ctx context.Context, cb gateway.Callback, source enums.CallbackSource) (*reconcile.Result, error)
	RecordRejected(ctx context.Context, provider string, source enums.CallbackSource, raw map[string]string, cause error) error
}

type receipt struct {
	Status string `json:"status"`
}

// PayUCallback accepts PayU's form-encoded success and failure posts.
// Every outcome is acknowledged with a 200 once recorded. Rejected and
// flagged callbacks are visible in the audit trail.
func PayUCallback(parser callbackParser, reconciler callbackReconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if parser == nil || reconciler == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment callback handling unavailable"))
			return
		}

		if err := r.ParseForm(); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse callback form"))
			return
		}

		cb, err := parser.ParseCallback(ctx, r.PostForm)
		if err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "payu callback rejected")
			if recErr := reconciler.RecordRejected(ctx, parser.Name(), enums.CallbackSourceWebhook, flatten(r.PostForm), err); recErr != nil {
				logg.Error(ctx, "record rejected payu callback", recErr)
			}
			responses.WriteSuccess(w, receipt{Status: "received"})
			return
		}

		result, err := reconciler.ApplyCallback(ctx, *cb, enums.CallbackSourceWebhook)
		if err != nil {
			logg.Error(logg.WithField(ctx, "external_order_id", cb.ExternalOrderID), "apply payu callback", err)
		} else if result != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"external_order_id": cb.ExternalOrderID,
				"result":            result.Result,
			}), "payu callback applied")
		}
		responses.WriteSuccess(w, receipt{Status: "received"})
	}
}

func flatten(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for key := range form {
		out[key] = form.Get(key)
	}
	return out
}
