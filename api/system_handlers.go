package api

import (
	"net/http"

	"sigmalens/convert"
)

type refreshRequest struct {
	FilePaths []string `json:"file_paths" validate:"max=1000,dive,required"`
}

// getHealth reports catalog and conversion circuit state.
func (a *API) getHealth(w http.ResponseWriter, r *http.Request) {
	breaker := a.converter.BreakerState()
	status := "ok"
	if breaker != convert.BreakerClosed {
		status = "degraded"
	}
	a.respondJSON(w, map[string]interface{}{
		"status":             status,
		"catalog":            a.catalog.Stats(),
		"conversion_circuit": breaker,
		"sessions":           a.sessions.Len(),
	}, http.StatusOK)
}

// refreshCache drops cached conversions: the listed rules, or all of them
// when none are listed.
func (a *API) refreshCache(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, nil)
		return
	}

	scope := "all"
	var err error
	if len(req.FilePaths) > 0 {
		scope = "rules"
		err = a.converter.Invalidate(r.Context(), req.FilePaths...)
	} else {
		err = a.converter.InvalidateAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to refresh conversion cache", err, a.logger)
		return
	}

	a.logger.Infow("Conversion cache refreshed",
		"request_id", requestIDOf(r),
		"scope", scope,
		"rules", len(req.FilePaths))
	a.respondJSON(w, map[string]interface{}{
		"status":      "ok",
		"scope":       scope,
		"invalidated": len(req.FilePaths),
	}, http.StatusOK)
}
