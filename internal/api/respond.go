package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"

	"github.com/soaringjerry/Mindwell/internal/assessment"
	"github.com/soaringjerry/Mindwell/internal/middleware"
	"github.com/soaringjerry/Mindwell/internal/services"
	"github.com/soaringjerry/Mindwell/internal/utils"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string               `json:"error"`
	Code    services.ErrorCode   `json:"code"`
	Message string               `json:"message"`
	Details []assessment.Problem `json:"details,omitempty"`
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorValidationFailed:
		return http.StatusUnprocessableEntity
	case services.ErrorNotAuthenticated, services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorForbidden:
		return http.StatusForbidden
	case services.ErrorNotFound, services.ErrorSessionNotFound:
		return http.StatusNotFound
	case services.ErrorConflict, services.ErrorAlreadyCompleted, services.ErrorPrerequisitesIncomplete:
		return http.StatusConflict
	case services.ErrorBadGateway:
		return http.StatusBadGateway
	case services.ErrorPersistenceFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// writeError maps service errors to their status and a localized message.
// Anything else is logged and reported as an internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	se, ok := services.AsServiceError(err)
	if !ok {
		log.Printf("api: %s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal", Message: "internal error"})
		return
	}
	if se.Code == services.ErrorPersistenceFailed {
		log.Printf("api: %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, statusFor(se.Code), errorBody{
		Error:   se.Message,
		Code:    se.Code,
		Message: utils.T(locale, "error."+string(se.Code)),
		Details: se.Details,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(into); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return services.NewInvalidError("invalid JSON body: " + err.Error())
	}
	return nil
}

// rawResponses keeps answers undecoded so a bad value is reported against its
// question instead of failing the whole body.
type rawResponses map[string]json.RawMessage

func (raw rawResponses) decode() (assessment.Responses, []assessment.Problem) {
	if raw == nil {
		return nil, nil
	}
	out := make(assessment.Responses, len(raw))
	var problems []assessment.Problem
	for id, msg := range raw {
		var a assessment.Answer
		if err := json.Unmarshal(msg, &a); err != nil {
			problems = append(problems, assessment.Problem{QuestionID: id, Reason: fmt.Sprintf("unsupported answer value %s", msg)})
			continue
		}
		out[id] = a
	}
	sort.Slice(problems, func(i, j int) bool { return problems[i].QuestionID < problems[j].QuestionID })
	return out, problems
}
