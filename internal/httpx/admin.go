package httpx

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/AngelCh415/leadscore/internal/models"
	"github.com/AngelCh415/leadscore/internal/store"
	"github.com/AngelCh415/leadscore/internal/utils"
)

func (h *handlers) getLead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lead, err := h.st.GetLead(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	events, err := h.st.ListEvents(r.Context(), id)
	if err != nil {
		h.internal(w, r, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"lead": lead, "events": events})
}

type leadPatch struct {
	Notes       *string `json:"notes" validate:"omitempty,max=5000"`
	Disposition *string `json:"disposition" validate:"omitempty,oneof=new contacted qualified won lost archived"`
}

func (h *handlers) patchLead(w http.ResponseWriter, r *http.Request) {
	var in leadPatch
	if !decodeBody(w, r, &in) {
		return
	}
	lead, err := h.st.UpdateLead(r.Context(), chi.URLParam(r, "id"), store.LeadPatch{
		Notes:       in.Notes,
		Disposition: in.Disposition,
	})
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, lead)
}

type dealInput struct {
	LeadID     string  `json:"lead_id" validate:"max=64"`
	ExternalID string  `json:"external_id" validate:"max=128"`
	Stage      string  `json:"stage" validate:"omitempty,oneof=new quoted negotiating won lost"`
	Amount     float64 `json:"amount" validate:"gte=0"`
	JobCost    float64 `json:"job_cost" validate:"gte=0"`
}

func (h *handlers) createDeal(w http.ResponseWriter, r *http.Request) {
	var in dealInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.LeadID != "" {
		if _, err := h.st.GetLead(r.Context(), in.LeadID); err != nil {
			h.storeError(w, r, err)
			return
		}
	}
	d := models.Deal{
		ID:         uuid.NewString(),
		LeadID:     in.LeadID,
		ExternalID: strings.TrimSpace(in.ExternalID),
		Stage:      in.Stage,
		Amount:     in.Amount,
		JobCost:    in.JobCost,
	}
	if d.Stage == "" {
		d.Stage = models.StageNew
	}
	if err := h.st.CreateDeal(r.Context(), &d); err != nil {
		h.storeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, d)
}

type dealPatch struct {
	Stage   *string  `json:"stage" validate:"omitempty,oneof=new quoted negotiating won lost"`
	Amount  *float64 `json:"amount" validate:"omitempty,gte=0"`
	JobCost *float64 `json:"job_cost" validate:"omitempty,gte=0"`
}

func (h *handlers) patchDeal(w http.ResponseWriter, r *http.Request) {
	var in dealPatch
	if !decodeBody(w, r, &in) {
		return
	}
	d, err := h.st.UpdateDeal(r.Context(), chi.URLParam(r, "id"), store.DealPatch{
		Stage:   in.Stage,
		Amount:  in.Amount,
		JobCost: in.JobCost,
	})
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, d)
}

type spendRow struct {
	Date        string  `json:"date" validate:"required,datetime=2006-01-02"`
	Platform    string  `json:"platform" validate:"required,max=64"`
	Campaign    string  `json:"campaign" validate:"max=128"`
	Spend       float64 `json:"spend" validate:"gte=0"`
	Clicks      int     `json:"clicks" validate:"gte=0"`
	Impressions int     `json:"impressions" validate:"gte=0"`
}

type spendBatch struct {
	Rows []spendRow `json:"rows" validate:"required,min=1,max=1000,dive"`
}

func (h *handlers) upsertSpend(w http.ResponseWriter, r *http.Request) {
	var in spendBatch
	if !decodeBody(w, r, &in) {
		return
	}
	rows := make([]models.AdSpend, len(in.Rows))
	for i, s := range in.Rows {
		campaign := strings.TrimSpace(s.Campaign)
		if campaign == "" {
			campaign = "unknown"
		}
		rows[i] = models.AdSpend{
			Date:        s.Date,
			Platform:    strings.ToLower(strings.TrimSpace(s.Platform)),
			Campaign:    campaign,
			Spend:       s.Spend,
			Clicks:      s.Clicks,
			Impressions: s.Impressions,
		}
	}
	if err := h.st.UpsertSpend(r.Context(), rows); err != nil {
		h.internal(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]int{"upserted": len(rows)})
}
