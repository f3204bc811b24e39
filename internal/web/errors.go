package web

// errors.go maps errors of the survey packages to JSON responses.
//
// Every error response carries a stable code support can search the logs
// for:
//
//	COL001 - Unknown collection (404)
//	COL002 - Collection file missing (404)
//	SRV001 - Survey not found (404)
//	SRV002 - Survey data not built (409)
//	TBL001 - Table not found (404)
//	VAR001 - Missing variables (400)
//	REQ001 - Invalid request parameter (400)
//	REQ002 - Request timed out (504)
//	RATE001 - Too many requests (429)
//	ERR000 - Unexpected error (500)
//
// The technical error is logged with the request id; the client receives
// the mapped message.

import (
	"context"
	"io/fs"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/survey-manager/internal/config"
	"github.com/JonMunkholm/survey-manager/internal/logging"
	"github.com/JonMunkholm/survey-manager/internal/store"
	"github.com/JonMunkholm/survey-manager/internal/survey"
)

var (
	errRateLimited  = errors.New("rate limit exceeded")
	errInvalidParam = errors.New("invalid request parameter")
)

// ErrorResponse is the JSON body of error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// UserMessage is the client side description of an error.
type UserMessage struct {
	Message string
	Action  string
	Code    string
	Status  int
}

var errorMessages = []struct {
	target error
	msg    UserMessage
}{
	{config.ErrUnknownCollection, UserMessage{
		Message: "Collection not found",
		Action:  "List the collections registered in config.toml",
		Code:    "COL001", Status: http.StatusNotFound,
	}},
	{fs.ErrNotExist, UserMessage{
		Message: "Collection file not found",
		Action:  "Build the collection first",
		Code:    "COL002", Status: http.StatusNotFound,
	}},
	{survey.ErrSurveyNotFound, UserMessage{
		Message: "Survey not found",
		Action:  "Check the survey name in the collection",
		Code:    "SRV001", Status: http.StatusNotFound,
	}},
	{survey.ErrStoreNotBuilt, UserMessage{
		Message: "Survey data has not been built",
		Action:  "Run surveyctl fill for this survey",
		Code:    "SRV002", Status: http.StatusConflict,
	}},
	{store.ErrTableNotFound, UserMessage{
		Message: "Table not found",
		Action:  "Verify the table name is correct",
		Code:    "TBL001", Status: http.StatusNotFound,
	}},
	{survey.ErrMissingVariables, UserMessage{
		Message: "Some variables are missing from the table",
		Action:  "Check the table columns",
		Code:    "VAR001", Status: http.StatusBadRequest,
	}},
	{errInvalidParam, UserMessage{
		Message: "Invalid request parameter",
		Code:    "REQ001", Status: http.StatusBadRequest,
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller preview",
		Code:    "REQ002", Status: http.StatusGatewayTimeout,
	}},
	{errRateLimited, UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001", Status: http.StatusTooManyRequests,
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the server logs",
	Code:    "ERR000",
	Status:  http.StatusInternalServerError,
}

// MapError returns the user message of the first known error err wraps.
func MapError(err error) UserMessage {
	for _, em := range errorMessages {
		if errors.Is(err, em.target) {
			return em.msg
		}
	}
	return defaultMessage
}

// respondError logs err and writes its mapped JSON response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := MapError(err)
	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", msg.Status,
		"error", err.Error(),
		"code", msg.Code,
	)

	// Internal errors are not detailed to the client.
	detail := err.Error()
	if msg.Status >= http.StatusInternalServerError {
		detail = msg.Message
	}
	writeJSON(w, msg.Status, ErrorResponse{
		Error:   detail,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
