package api

import (
	"net/http"

	"sigmalens/search"
)

type searchRequest struct {
	Query string `json:"query" validate:"max=2048"`
}

// getRules lists the rule catalog.
func (a *API) getRules(w http.ResponseWriter, r *http.Request) {
	records := a.catalog.Records()
	a.respondJSON(w, map[string]interface{}{
		"rules": records,
		"total": len(records),
	}, http.StatusOK)
}

// searchRules runs one search. Service failures are answered by the local
// filter and reported through the degraded flag, never as an error status.
func (a *API) searchRules(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, nil)
		return
	}
	res := a.searcher.Search(r.Context(), a.catalog.Records(), req.Query)
	a.respondJSON(w, res, http.StatusOK)
}

// recordsFunc adapts the catalog for live search.
func (a *API) recordsFunc() func() []search.RuleRecord {
	return a.catalog.Records
}
