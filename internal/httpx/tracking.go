package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/AngelCh415/leadscore/internal/tracking"
	"github.com/AngelCh415/leadscore/internal/utils"
	"github.com/AngelCh415/leadscore/internal/validation"
)

type recordFunc func(ctx context.Context, events []tracking.EventInput) ([]tracking.Result, error)

func (h *handlers) events(record recordFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		events, err := tracking.ParseBatch(body)
		if err != nil {
			writeClientError(w, r, err)
			return
		}
		res, err := record(r.Context(), events)
		if err != nil {
			h.internal(w, r, err)
			return
		}
		utils.WriteJSON(w, http.StatusOK, map[string]any{"results": res})
	}
}

type leadResponse struct {
	LeadID          string `json:"lead_id"`
	LeadStatus      string `json:"lead_status"`
	EngagementScore int    `json:"engagement_score"`
	Created         bool   `json:"created"`
}

func (h *handlers) captureLead(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var in tracking.LeadInput
	if err := json.Unmarshal(body, &in); err != nil {
		utils.WriteError(w, r, http.StatusBadRequest, utils.CodeBadRequest, "invalid JSON body", nil)
		return
	}
	lead, created, err := h.tracking.CaptureLead(r.Context(), in)
	if err != nil {
		var ve *validation.Error
		if errors.As(err, &ve) {
			writeClientError(w, r, err)
			return
		}
		h.internal(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	utils.WriteJSON(w, status, leadResponse{
		LeadID:          lead.ID,
		LeadStatus:      lead.LeadStatus,
		EngagementScore: lead.EngagementScore,
		Created:         created,
	})
}
