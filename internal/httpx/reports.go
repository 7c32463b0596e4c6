package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AngelCh415/leadscore/internal/ingest"
	"github.com/AngelCh415/leadscore/internal/metrics"
	"github.com/AngelCh415/leadscore/internal/utils"
)

func (h *handlers) query(w http.ResponseWriter, r *http.Request) (metrics.Query, bool) {
	q, err := metrics.ParseQuery(r.URL.Query(), h.now())
	if err != nil {
		utils.WriteError(w, r, http.StatusBadRequest, utils.CodeBadRequest, err.Error(), nil)
		return q, false
	}
	return q, true
}

func (h *handlers) attribution(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	rep, err := h.reports.Attribution(r.Context(), q)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rep)
}

func (h *handlers) revenue(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	rep, err := h.reports.Revenue(r.Context(), q)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rep)
}

func (h *handlers) executiveProfit(w http.ResponseWriter, r *http.Request) {
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	rep, err := h.reports.ExecutiveProfit(r.Context(), q)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, rep)
}

func (h *handlers) ingestRun(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if q := r.URL.Query().Get("since"); q != "" {
		t, err := time.Parse("2006-01-02", q)
		if err != nil {
			utils.WriteError(w, r, http.StatusBadRequest, utils.CodeBadRequest, "bad since (YYYY-MM-DD)", nil)
			return
		}
		since = &t
	}
	stats, err := h.etl.Run(r.Context(), since)
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}

func (h *handlers) exportRun(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("date")
	if q == "" {
		utils.WriteError(w, r, http.StatusBadRequest, utils.CodeBadRequest, "date required (YYYY-MM-DD)", nil)
		return
	}
	t, err := time.Parse("2006-01-02", q)
	if err != nil {
		utils.WriteError(w, r, http.StatusBadRequest, utils.CodeBadRequest, "bad date", nil)
		return
	}
	n, err := h.etl.ExportDay(r.Context(), t)
	if err != nil {
		h.upstreamError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"date": q, "exported": n})
}

func (h *handlers) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ingest.ErrNotConfigured) {
		utils.WriteError(w, r, http.StatusServiceUnavailable, utils.CodeUnavailable, err.Error(), nil)
		return
	}
	h.log.Warn("upstream call failed", slog.String("rid", utils.RID(r.Context())), slog.Any("err", err))
	utils.WriteError(w, r, http.StatusBadGateway, utils.CodeUpstream, "upstream call failed", nil)
}
