package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/alejandrodnm/polypredict/internal/domain"
)

// callerHeader identifica al usuario que firma la operación.
const callerHeader = "X-Caller"

// maxBodyBytes limita el tamaño de los cuerpos JSON.
const maxBodyBytes = 1 << 16

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type claimErrorBody struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind"`
	Skipped []uint64 `json:"skipped"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorBody{Error: msg, Kind: kind})
}

// statusOf traduce un error de dominio a su código HTTP.
func statusOf(kind string) int {
	switch kind {
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindRoundNotFound:
		return http.StatusNotFound
	case domain.KindBelowMinimumStake, domain.KindInvalidParams, domain.KindInvalidPosition:
		return http.StatusBadRequest
	case domain.KindInvalidRoundState, domain.KindTimingViolation, domain.KindDuplicateBet,
		domain.KindPaused, domain.KindNothingToClaim, domain.KindConflict:
		return http.StatusConflict
	case domain.KindOracleUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError responde con el tipo del error. Los internos no se
// exponen: se registran y el cliente recibe un mensaje genérico.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := domain.KindOf(err)
	status := statusOf(kind)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "httpapi: "+op+" failed", "err", err)
		writeError(w, status, "internal error", kind)
		return
	}
	writeError(w, status, err.Error(), kind)
}

// caller lee la identidad del header; responde 401 si falta.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	c := strings.TrimSpace(r.Header.Get(callerHeader))
	if c == "" {
		writeError(w, http.StatusUnauthorized, "missing "+callerHeader+" header", domain.KindUnauthorized)
		return "", false
	}
	return c, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return false
	}
	return true
}

func pathEpoch(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	epoch, err := strconv.ParseUint(r.PathValue("epoch"), 10, 64)
	if err != nil || epoch == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid epoch %q", r.PathValue("epoch")), "")
		return 0, false
	}
	return epoch, true
}

// queryInt lee un entero no negativo con valor por defecto y tope.
func queryInt(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

