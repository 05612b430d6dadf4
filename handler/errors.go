package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/shell"
)

type jsonHTTPResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

// statusCode maps an error of the model taxonomy to its HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, model.ErrTransportUnavailable), errors.Is(err, model.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// httpError writes err as a JSON response. Unclassified errors are logged
// with msg and, for command failures, the originating command.
func httpError(c echo.Context, err error, msg string) error {
	code := statusCode(err)
	if code != http.StatusInternalServerError {
		log.Warnf("%s: %v", msg, err)
		return c.JSON(code, jsonHTTPResponse{false, err.Error()})
	}

	var cmdErr *shell.CommandError
	if errors.As(err, &cmdErr) {
		log.Errorf("%s: command %q failed: %v: %s", msg, cmdErr.Command, cmdErr.Err, cmdErr.Stderr)
	} else {
		log.Error(msg+": ", err)
	}
	return c.JSON(code, jsonHTTPResponse{false, msg})
}
