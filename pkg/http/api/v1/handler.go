package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/aquasecurity/vuln-tracker/pkg/etc"
	"github.com/aquasecurity/vuln-tracker/pkg/http/api"
	"github.com/aquasecurity/vuln-tracker/pkg/persistence"
	"github.com/aquasecurity/vuln-tracker/pkg/report"
	"github.com/aquasecurity/vuln-tracker/pkg/tracker"
	"github.com/aquasecurity/vuln-tracker/pkg/vuln"
)

const (
	pathAPIPrefix       = "/api/v1"
	pathVulnerabilities = "/portals/{portal}/branches/{branch}/vulnerabilities"
	pathState           = "/portals/{portal}/branches/{branch}/state"
	pathLastModified    = "/portals/{portal}/branches/{branch}/last-modified"
	pathMetadata        = "/metadata"
	pathVarPortal       = "portal"
	pathVarBranch       = "branch"
)

// listFilter narrows the vulnerabilities returned to the client. It never
// affects what is persisted.
type listFilter struct {
	States     []string `schema:"state"`
	Severities []string `schema:"severity"`
}

func (f listFilter) apply(list []vuln.Vulnerability) []vuln.Vulnerability {
	if len(f.States) == 0 && len(f.Severities) == 0 {
		return list
	}
	return lo.Filter(list, func(v vuln.Vulnerability, _ int) bool {
		if len(f.States) > 0 && !lo.Contains(f.States, v.State.String()) {
			return false
		}
		if len(f.Severities) > 0 && !lo.ContainsBy(f.Severities, func(s string) bool {
			return strings.EqualFold(s, v.Severity())
		}) {
			return false
		}
		return true
	})
}

type lastModified struct {
	LastModified int64 `json:"last_modified"`
}

type metadata struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type requestHandler struct {
	info    etc.BuildInfo
	tracker tracker.Tracker
	decoder *schema.Decoder
	api.BaseHandler
}

func NewAPIHandler(info etc.BuildInfo, tracker tracker.Tracker) http.Handler {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	handler := &requestHandler{
		info:    info,
		tracker: tracker,
		decoder: decoder,
	}

	router := mux.NewRouter()
	router.Use(handler.logRequest)

	v1Router := router.PathPrefix(pathAPIPrefix).Subrouter()

	v1Router.Methods(http.MethodGet).Path(pathVulnerabilities).HandlerFunc(handler.GetVulnerabilities)
	v1Router.Methods(http.MethodPut).Path(pathVulnerabilities).HandlerFunc(handler.ApplyTriageEdits)
	v1Router.Methods(http.MethodGet).Path(pathState).HandlerFunc(handler.GetState)
	v1Router.Methods(http.MethodGet).Path(pathLastModified).HandlerFunc(handler.GetLastModified)
	v1Router.Methods(http.MethodGet).Path(pathMetadata).HandlerFunc(handler.GetMetadata)

	probeRouter := router.PathPrefix("/probe").Subrouter()
	probeRouter.Methods(http.MethodGet).Path("/healthy").HandlerFunc(handler.GetHealthy)
	probeRouter.Methods(http.MethodGet).Path("/ready").HandlerFunc(handler.GetReady)

	return router
}

func (h *requestHandler) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		log.WithFields(log.Fields{
			"remote_addr": req.RemoteAddr,
			"method":      req.Method,
			"request_uri": req.URL.RequestURI(),
		}).Trace("Handling request")
		next.ServeHTTP(res, req)
	})
}

func (h *requestHandler) GetVulnerabilities(res http.ResponseWriter, req *http.Request) {
	key, ok := h.keyOf(res, req)
	if !ok {
		return
	}

	var filter listFilter
	if err := h.decoder.Decode(&filter, req.URL.Query()); err != nil {
		h.WriteJSONError(res, api.Error{
			HTTPCode: http.StatusBadRequest,
			Message:  fmt.Sprintf("invalid query: %v", err),
		})
		return
	}

	list, err := h.tracker.GetVulnerabilities(req.Context(), key)
	if err != nil {
		h.writeTrackerError(res, key, "getting vulnerabilities", err)
		return
	}

	h.WriteJSON(res, filter.apply(list), api.MimeTypeVulnerabilityList, http.StatusOK)
}

func (h *requestHandler) ApplyTriageEdits(res http.ResponseWriter, req *http.Request) {
	key, ok := h.keyOf(res, req)
	if !ok {
		return
	}

	var edits []vuln.Edit
	if err := json.NewDecoder(req.Body).Decode(&edits); err != nil {
		log.WithError(err).Error("Error while unmarshalling triage edits")
		h.WriteJSONError(res, api.Error{
			HTTPCode: http.StatusBadRequest,
			Message:  fmt.Sprintf("unmarshalling triage edits: %s", err.Error()),
		})
		return
	}

	if validationError := h.ValidateEdits(edits); validationError != nil {
		log.Errorf("Error while validating triage edits: %s", validationError.Message)
		h.WriteJSONError(res, *validationError)
		return
	}

	outcome, err := h.tracker.ApplyTriageEdits(req.Context(), key, edits)
	if err != nil {
		h.writeTrackerError(res, key, "applying triage edits", err)
		return
	}

	h.WriteJSON(res, outcome, api.MimeTypeTriageOutcome, http.StatusOK)
}

func (h *requestHandler) ValidateEdits(edits []vuln.Edit) *api.Error {
	for i, edit := range edits {
		if strings.TrimSpace(edit.ID) == "" {
			return &api.Error{
				HTTPCode: http.StatusUnprocessableEntity,
				Message:  fmt.Sprintf("missing id of edit %d", i),
			}
		}
	}
	return nil
}

func (h *requestHandler) GetState(res http.ResponseWriter, req *http.Request) {
	key, ok := h.keyOf(res, req)
	if !ok {
		return
	}

	list, err := h.tracker.CurrentState(req.Context(), key)
	if err != nil {
		h.writeTrackerError(res, key, "getting current state", err)
		return
	}

	h.WriteJSON(res, list, api.MimeTypeVulnerabilityList, http.StatusOK)
}

func (h *requestHandler) GetLastModified(res http.ResponseWriter, req *http.Request) {
	key, ok := h.keyOf(res, req)
	if !ok {
		return
	}

	modTime, err := h.tracker.GetLastModified(req.Context(), key)
	if err != nil {
		h.writeTrackerError(res, key, "getting last modified time", err)
		return
	}

	res.Header().Set(api.HeaderLastModified, modTime.UTC().Format(http.TimeFormat))
	h.WriteJSON(res, lastModified{LastModified: modTime.UnixMilli()}, api.MimeTypeLastModified, http.StatusOK)
}

func (h *requestHandler) GetMetadata(res http.ResponseWriter, _ *http.Request) {
	h.WriteJSON(res, metadata{
		Version: h.info.Version,
		Commit:  h.info.Commit,
		Date:    h.info.Date,
	}, api.MimeType{Type: "application", Subtype: "json"}, http.StatusOK)
}

func (h *requestHandler) GetHealthy(res http.ResponseWriter, _ *http.Request) {
	res.WriteHeader(http.StatusOK)
}

func (h *requestHandler) GetReady(res http.ResponseWriter, _ *http.Request) {
	res.WriteHeader(http.StatusOK)
}

func (h *requestHandler) keyOf(res http.ResponseWriter, req *http.Request) (vuln.Key, bool) {
	vars := mux.Vars(req)
	key := vuln.NewKey(vars[pathVarPortal], vars[pathVarBranch])
	if err := key.Validate(); err != nil {
		h.WriteJSONError(res, api.Error{
			HTTPCode: http.StatusBadRequest,
			Message:  err.Error(),
		})
		return vuln.Key{}, false
	}
	return key, true
}

func (h *requestHandler) writeTrackerError(res http.ResponseWriter, key vuln.Key, action string, err error) {
	reqLog := log.WithFields(log.Fields{
		"portal": key.Portal,
		"branch": key.Branch,
	}).WithError(err)

	var (
		malformed *report.MalformedError
		corrupted *persistence.CorruptedError
		writeErr  *persistence.WriteError
	)

	apiErr := api.Error{
		HTTPCode: http.StatusInternalServerError,
		Message:  fmt.Sprintf("%s: %v", action, err),
	}

	switch {
	case errors.Is(err, report.ErrNotFound), errors.Is(err, tracker.ErrNotFound):
		apiErr.HTTPCode = http.StatusNotFound
		reqLog.Warnf("Error while %s", action)
	case errors.As(err, &malformed):
		apiErr.HTTPCode = http.StatusUnprocessableEntity
		reqLog.Errorf("Error while %s", action)
	case errors.As(err, &corrupted), errors.As(err, &writeErr):
		reqLog.Errorf("Store failure while %s", action)
	default:
		reqLog.Errorf("Error while %s", action)
	}

	h.WriteJSONError(res, apiErr)
}
