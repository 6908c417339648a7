package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	HeaderContentType  = "Content-Type"
	HeaderLastModified = "Last-Modified"
)

type MimeTypeParams map[string]string

var MimeTypeParamVersion = map[string]string{"version": "1.0"}
var MimeTypeVulnerabilityList = MimeType{Type: "application", Subtype: "vnd.vuln-tracker.vulnerabilities+json", Params: MimeTypeParamVersion}
var MimeTypeTriageOutcome = MimeType{Type: "application", Subtype: "vnd.vuln-tracker.triage.outcome+json", Params: MimeTypeParamVersion}
var MimeTypeLastModified = MimeType{Type: "application", Subtype: "vnd.vuln-tracker.last-modified+json", Params: MimeTypeParamVersion}
var MimeTypeError = MimeType{Type: "application", Subtype: "vnd.vuln-tracker.error+json", Params: MimeTypeParamVersion}

type MimeType struct {
	Type    string
	Subtype string
	Params  MimeTypeParams
}

func (mt MimeType) String() string {
	s := fmt.Sprintf("%s/%s", mt.Type, mt.Subtype)
	if len(mt.Params) == 0 {
		return s
	}
	params := make([]string, 0, len(mt.Params))
	for k, v := range mt.Params {
		params = append(params, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(params)
	return fmt.Sprintf("%s; %s", s, strings.Join(params, ";"))
}

// Error is the body of every error response.
type Error struct {
	HTTPCode int    `json:"-"`
	Message  string `json:"message"`
}

type BaseHandler struct {
}

func (h *BaseHandler) WriteJSON(res http.ResponseWriter, data interface{}, mimeType MimeType, statusCode int) {
	b, err := json.Marshal(data)
	if err != nil {
		log.WithError(err).Error("Error while writing JSON")
		h.SendInternalServerError(res)
		return
	}

	res.Header().Set(HeaderContentType, mimeType.String())
	res.WriteHeader(statusCode)
	if _, err = res.Write(b); err != nil {
		log.WithError(err).Warn("Error while writing response")
	}
}

func (h *BaseHandler) WriteJSONError(res http.ResponseWriter, err Error) {
	data := struct {
		Err Error `json:"error"`
	}{err}

	h.WriteJSON(res, data, MimeTypeError, err.HTTPCode)
}

func (h *BaseHandler) SendInternalServerError(res http.ResponseWriter) {
	http.Error(res, "Internal Server Error", http.StatusInternalServerError)
}
