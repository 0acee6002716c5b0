package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
	"github.com/taskerhub/marketplace/internal/middleware"
)

var validate = validator.New()

type errorMapping struct {
	status  int
	message string
}

// errorMappings is the single place where error kinds become HTTP statuses. The message is the
// fallback shown when the error carries no user-facing text of its own.
var errorMappings = map[domainErrors.Kind]errorMapping{
	domainErrors.KindNotFound:           {http.StatusNotFound, "not found"},
	domainErrors.KindUnauthorized:       {http.StatusForbidden, "you are not allowed to do this"},
	domainErrors.KindForbidden:          {http.StatusForbidden, "you are not allowed to do this"},
	domainErrors.KindInvalidTransition:  {http.StatusBadRequest, "this action is not allowed in the current state"},
	domainErrors.KindValidation:         {http.StatusBadRequest, "invalid input"},
	domainErrors.KindConflict:           {http.StatusConflict, "this request is no longer available"},
	domainErrors.KindAlreadyCompleted:   {http.StatusConflict, "already processed"},
	domainErrors.KindGatewayUnavailable: {http.StatusBadGateway, "payment pending verification"},
	domainErrors.KindPersistence:        {http.StatusServiceUnavailable, "temporarily unavailable, please retry"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domainErrors.KindOf(err)
	m, ok := errorMappings[kind]
	if !ok {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error in handler")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: string(domainErrors.KindInternal)})
		return
	}
	if m.status >= 500 {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, m.status, ErrorResponse{
		Error: domainErrors.UserMessage(err, m.message),
		Code:  string(kind),
	})
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON")
	}
	return validateStruct(dst)
}

// decodeOptional accepts an empty body for endpoints whose fields are all optional.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return validateStruct(dst)
	}
	return decodeAndValidate(r, dst)
}

func validateStruct(dst any) error {
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", "invalid input")
	}
	return nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return parseUUID("id", chi.URLParam(r, "id"))
}

// parseUUID parses a client supplied id, reporting a malformed one as a validation error on field.
func parseUUID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, domainErrors.NewValidationError(field, "must be a UUID")
	}
	return id, nil
}

// caller returns the authenticated user. Routes that reach it are always behind RequireAuth.
func caller(r *http.Request) (uuid.UUID, error) {
	id, ok := middleware.GetUserID(r.Context())
	if !ok {
		return uuid.Nil, domainErrors.ErrUnauthorized
	}
	return id, nil
}
