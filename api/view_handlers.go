package api

import (
	"errors"
	"net/http"
	"path"

	"github.com/gorilla/mux"

	"sigmalens/metrics"
	"sigmalens/querytree"
	"sigmalens/sigma"
	"sigmalens/viewer"
)

type openRequest struct {
	FilePath string `json:"file_path" validate:"required,max=4096"`
	Title    string `json:"title" validate:"max=1024"`
}

// viewResponse is the snapshot of a session's open rule.
type viewResponse struct {
	SessionID string `json:"session_id"`
	*viewer.Snapshot
	Markup string `json:"markup,omitempty"`
}

type rawResponse struct {
	RulePath  string `json:"rule_path"`
	RawText   string `json:"raw_text"`
	Formatted string `json:"formatted"`
}

// createSession starts a viewing session.
func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	session := a.sessions.Create()
	a.respondJSON(w, map[string]interface{}{
		"session_id": session.ID,
		"created_at": session.CreatedAt,
	}, http.StatusCreated)
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Delete(mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusNotFound, "Session not found", nil, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// session resolves the {id} route variable, answering 404 itself.
func (a *API) session(w http.ResponseWriter, r *http.Request) (*viewer.Session, bool) {
	session, err := a.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found", nil, nil)
		return nil, false
	}
	return session, true
}

// openRule converts a rule and installs it in the session. A rule the
// service rejects is still a 200 with status "error"; only transport
// failures are 502.
func (a *API) openRule(w http.ResponseWriter, r *http.Request) {
	session, ok := a.session(w, r)
	if !ok {
		return
	}
	var req openRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, nil)
		return
	}
	if req.Title == "" {
		req.Title = a.ruleTitle(req.FilePath)
	}

	snap, err := session.Open(r.Context(), req.FilePath, req.Title)
	var openErr *viewer.OpenError
	switch {
	case err == nil:
		a.respondView(w, session.ID, snap)
	case errors.As(err, &openErr):
		a.logger.Warnw("Rule conversion unavailable",
			"request_id", requestIDOf(r),
			"rule_path", openErr.Path,
			"title", openErr.Title,
			"error", openErr.Err)
		a.respondJSON(w, map[string]string{
			"error":     "Conversion service unavailable",
			"file_path": openErr.Path,
			"title":     openErr.Title,
		}, http.StatusBadGateway)
	case errors.Is(err, viewer.ErrStaleResponse):
		metrics.StaleResponsesDiscarded.WithLabelValues("conversion").Inc()
		writeError(w, http.StatusConflict, "A newer open superseded this request", nil, nil)
	default:
		writeError(w, http.StatusInternalServerError, "Failed to open rule", err, a.logger)
	}
}

func (a *API) ruleTitle(filePath string) string {
	if rule, err := a.catalog.Lookup(filePath); err == nil && rule.Title != "" {
		return rule.Title
	} else if err != nil && !errors.Is(err, sigma.ErrRuleNotFound) {
		a.logger.Warnw("Rule lookup failed", "rule_path", filePath, "error", err)
	}
	return path.Base(filePath)
}

func (a *API) getView(w http.ResponseWriter, r *http.Request) {
	session, ok := a.session(w, r)
	if !ok {
		return
	}
	a.currentView(w, session)
}

// showStructured leaves the raw view. Collapse state starts over.
func (a *API) showStructured(w http.ResponseWriter, r *http.Request) {
	session, ok := a.session(w, r)
	if !ok {
		return
	}
	if _, err := session.Coordinator().SwitchToStructured(); err != nil {
		a.writeViewError(w, err)
		return
	}
	a.currentView(w, session)
}

func (a *API) toggleGroup(w http.ResponseWriter, r *http.Request) {
	session, ok := a.session(w, r)
	if !ok {
		return
	}
	if _, err := session.Coordinator().Toggle(mux.Vars(r)["gid"]); err != nil {
		a.writeViewError(w, err)
		return
	}
	a.currentView(w, session)
}

// getNode returns one rendered node, for the copy-value and copy-field
// actions.
func (a *API) getNode(w http.ResponseWriter, r *http.Request) {
	session, ok := a.session(w, r)
	if !ok {
		return
	}
	snap, err := session.Coordinator().Current()
	if err != nil {
		a.writeViewError(w, err)
		return
	}
	node := snap.View.Find(mux.Vars(r)["nid"])
	if node == nil {
		writeError(w, http.StatusNotFound, "Node not found", nil, nil)
		return
	}
	a.respondJSON(w, node, http.StatusOK)
}

// getRaw switches the session to the raw query. ?refresh=true refetches it
// first.
func (a *API) getRaw(w http.ResponseWriter, r *http.Request) {
	session, ok := a.session(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("refresh") == "true" {
		if err := session.RefreshRaw(r.Context()); err != nil {
			a.logger.Warnw("Raw query refresh failed",
				"session_id", session.ID,
				"error", err)
		}
	}

	rv, err := session.Coordinator().SwitchToRaw()
	if err != nil {
		a.writeViewError(w, err)
		return
	}
	a.respondJSON(w, rawResponse{RulePath: rv.RulePath, RawText: rv.Text, Formatted: rv.Formatted}, http.StatusOK)
}

// exportView returns the full structured view as indented text.
func (a *API) exportView(w http.ResponseWriter, r *http.Request) {
	session, ok := a.session(w, r)
	if !ok {
		return
	}
	snap, err := session.Coordinator().Current()
	if err != nil {
		a.writeViewError(w, err)
		return
	}

	text, err := querytree.SerializeForExport(snap.View)
	if err != nil {
		metrics.ExportsTotal.WithLabelValues("empty").Inc()
		writeError(w, http.StatusUnprocessableEntity, "Nothing to export", nil, nil)
		return
	}
	metrics.ExportsTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

func (a *API) currentView(w http.ResponseWriter, session *viewer.Session) {
	snap, err := session.Coordinator().Current()
	if err != nil {
		a.writeViewError(w, err)
		return
	}
	a.respondView(w, session.ID, snap)
}

func (a *API) respondView(w http.ResponseWriter, sessionID string, snap *viewer.Snapshot) {
	resp := viewResponse{SessionID: sessionID, Snapshot: snap}
	if snap.View != nil {
		resp.Markup = snap.View.Markup
	}
	a.respondJSON(w, resp, http.StatusOK)
}

func (a *API) writeViewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, viewer.ErrNothingOpen):
		writeError(w, http.StatusNotFound, "No rule is open", nil, nil)
	case errors.Is(err, viewer.ErrOpenPending):
		writeError(w, http.StatusConflict, "A rule is still being opened", nil, nil)
	case errors.Is(err, viewer.ErrRawUnavailable):
		a.respondJSON(w, map[string]string{
			"error":  err.Error(),
			"reason": viewer.RawUnavailableReason,
		}, http.StatusConflict)
	default:
		writeError(w, http.StatusInternalServerError, "View operation failed", err, a.logger)
	}
}

func requestIDOf(r *http.Request) string {
	id, _ := GetRequestID(r.Context())
	return id
}
