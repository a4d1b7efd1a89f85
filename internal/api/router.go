// Package api exposes the rule engine over HTTP.
package api

import (
	"net/http"
	"time"

	"fjacquet/txrules/internal/container"
	"fjacquet/txrules/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the HTTP surface on top of the components held by c.
// Every route below /api/workspaces/{workspace_id} is scoped to that
// workspace.
func NewRouter(c *container.Container) *chi.Mux {
	h := newHandlers(c)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(c.GetLogger()))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/workspaces/{workspace_id}", func(r chi.Router) {
		// Rules
		r.Get("/rules", h.ListRules)
		r.Post("/rules", h.CreateRule)
		r.Post("/rules/test", h.TestRules)
		r.Get("/rules/{rule_id}", h.GetRule)
		r.Put("/rules/{rule_id}", h.UpdateRule)
		r.Delete("/rules/{rule_id}", h.DeleteRule)
		r.Post("/rules/{rule_id}/toggle", h.ToggleRule)
		r.Post("/rules/{rule_id}/test", h.TestRule)
		r.Get("/rules/{rule_id}/logs", h.RuleLogs)

		// Transactions
		r.Post("/transactions/apply", h.ApplyBatch)
		r.Post("/transactions/import", h.ImportTransactions)
		r.Post("/transactions/{transaction_id}/apply", h.ApplyRules)
		r.Post("/transactions/{transaction_id}/suggest", h.SuggestRule)
		r.Get("/transactions/{transaction_id}/logs", h.TransactionLogs)

		// Logs
		r.Get("/logs", h.WorkspaceLogs)

		// Settings
		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)
		r.Put("/settings/excluded-beneficiaries/{beneficiary_id}", h.ExcludeBeneficiary)
		r.Delete("/settings/excluded-beneficiaries/{beneficiary_id}", h.IncludeBeneficiary)
	})

	return r
}

func requestLogger(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				logging.F("method", r.Method),
				logging.F("path", r.URL.Path),
				logging.F(logging.FieldStatus, ww.Status()),
				logging.F(logging.FieldDuration, time.Since(start).Milliseconds()),
				logging.F("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
