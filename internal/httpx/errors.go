package httpx

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/AngelCh415/leadscore/internal/store"
	"github.com/AngelCh415/leadscore/internal/utils"
	"github.com/AngelCh415/leadscore/internal/validation"
)

const maxBody = 1 << 20

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		utils.WriteError(w, r, http.StatusBadRequest, utils.CodeBadRequest, "unreadable or oversized body", nil)
		return nil, false
	}
	return b, true
}

// decodeBody reads a JSON object into dst and validates it.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	b, ok := readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, dst); err != nil {
		utils.WriteError(w, r, http.StatusBadRequest, utils.CodeBadRequest, "invalid JSON body", nil)
		return false
	}
	if err := validation.Struct(dst); err != nil {
		writeClientError(w, r, err)
		return false
	}
	return true
}

// writeClientError maps request errors to 400.
func writeClientError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *validation.Error
	if errors.As(err, &ve) {
		utils.WriteError(w, r, http.StatusBadRequest, utils.CodeValidationFailed, "validation failed", ve.Details())
		return
	}
	utils.WriteError(w, r, http.StatusBadRequest, utils.CodeBadRequest, err.Error(), nil)
}

func (h *handlers) internal(w http.ResponseWriter, r *http.Request, err error) {
	h.log.Error("request failed",
		slog.String("rid", utils.RID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.Any("err", err))
	utils.WriteError(w, r, http.StatusInternalServerError, utils.CodeInternalError, "internal error", nil)
}

func (h *handlers) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		utils.WriteError(w, r, http.StatusNotFound, utils.CodeNotFound, err.Error(), nil)
	case errors.Is(err, store.ErrConflict):
		utils.WriteError(w, r, http.StatusConflict, utils.CodeConflict, err.Error(), nil)
	default:
		h.internal(w, r, err)
	}
}
