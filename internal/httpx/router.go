package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AngelCh415/leadscore/internal/auth"
	"github.com/AngelCh415/leadscore/internal/ingest"
	"github.com/AngelCh415/leadscore/internal/metrics"
	"github.com/AngelCh415/leadscore/internal/store"
	"github.com/AngelCh415/leadscore/internal/telemetry"
	"github.com/AngelCh415/leadscore/internal/tracking"
	"github.com/AngelCh415/leadscore/internal/utils"
)

// Limits are per-IP request budgets for the public endpoints.
type Limits struct {
	Lead   int
	Signal int
	Window time.Duration
}

type Deps struct {
	Log         *slog.Logger
	Store       store.Store
	Tracking    *tracking.Service
	Reports     *metrics.Service
	ETL         *ingest.ETL
	Auth        *auth.Middleware
	CORSOrigins []string
	Limits      Limits
}

type handlers struct {
	log      *slog.Logger
	st       store.Store
	tracking *tracking.Service
	reports  *metrics.Service
	etl      *ingest.ETL
	now      func() time.Time
}

func NewRouter(d Deps) http.Handler {
	h := &handlers{
		log:      d.Log,
		st:       d.Store,
		tracking: d.Tracking,
		reports:  d.Reports,
		etl:      d.ETL,
		now:      time.Now,
	}

	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(utils.Logger(d.Log))
	mux.Use(middleware.Recoverer)
	mux.Use(telemetry.Middleware)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteError(w, r, http.StatusNotFound, utils.CodeNotFound, "route not found", nil)
	})

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Get("/readyz", h.readyz)
	mux.Handle("/metrics", promhttp.Handler())

	mux.With(perIP(d.Limits.Signal, d.Limits.Window)).Post("/signal", h.events(h.tracking.Signal))
	mux.With(perIP(d.Limits.Lead, d.Limits.Window)).Post("/leads", h.captureLead)
	mux.With(d.Auth.Authenticate).Post("/track", h.events(h.tracking.Track))

	reads := d.Auth.Require(auth.ObjReports, auth.ActRead)
	mux.Route("/admin", func(r chi.Router) {
		r.Use(d.Auth.Authenticate)

		r.With(d.Auth.Require(auth.ObjLeads, auth.ActRead)).Get("/leads/{id}", h.getLead)
		r.With(d.Auth.Require(auth.ObjLeads, auth.ActWrite)).Patch("/leads/{id}", h.patchLead)
		r.With(d.Auth.Require(auth.ObjDeals, auth.ActWrite)).Post("/deals", h.createDeal)
		r.With(d.Auth.Require(auth.ObjDeals, auth.ActWrite)).Patch("/deals/{id}", h.patchDeal)
		r.With(d.Auth.Require(auth.ObjSpend, auth.ActWrite)).Post("/spend", h.upsertSpend)

		r.With(d.Auth.Require(auth.ObjIngest, auth.ActWrite)).Post("/ingest/run", h.ingestRun)
		r.With(d.Auth.Require(auth.ObjIngest, auth.ActWrite)).Post("/export/run", h.exportRun)

		r.With(reads).Get("/revenue", h.revenue)
		r.With(reads).Get("/attribution-roas", h.attribution)
		r.With(reads).Get("/executive-profit", h.executiveProfit)
	})

	// old function paths
	legacy := mux.With(d.Auth.Authenticate, reads)
	legacy.Get("/admin-revenue", h.revenue)
	legacy.Get("/admin-attribution-roas", h.attribution)
	legacy.Get("/admin-executive-profit", h.executiveProfit)

	return mux
}

func perIP(n int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(n, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			utils.WriteError(w, r, http.StatusTooManyRequests, utils.CodeTooManyRequests, "rate limit exceeded", nil)
		}),
	)
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.st.Ping(ctx); err != nil {
		h.log.Warn("readiness check failed", slog.Any("err", err))
		utils.WriteError(w, r, http.StatusServiceUnavailable, utils.CodeUnavailable, "store unavailable", nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
