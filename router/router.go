// Package router builds the echo instance serving the JSON API.
package router

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
)

// BodyLimit caps request bodies; backup bundles are the largest ones.
const BodyLimit = "16M"

// logSkipper only logs requests whose outcome matches lvl: 5XX from ERROR,
// 4XX from WARN and everything else from DEBUG.
func logSkipper(lvl log.Lvl) middleware.Skipper {
	return func(c echo.Context) bool {
		status := c.Response().Status
		switch {
		case status >= 500:
			return lvl > log.ERROR
		case status >= 400:
			return lvl > log.WARN
		}
		return lvl > log.DEBUG
	}
}

// errorHandler renders errors that escape the handlers, such as unknown
// routes, in the same shape as handler responses.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	message := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		}
	} else {
		log.Error("Unhandled error: ", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, map[string]interface{}{"status": false, "message": message})
	}
	if err != nil {
		log.Error("Cannot write error response: ", err)
	}
}

// New function
func New(lvl log.Lvl) *echo.Echo {
	e := echo.New()

	logConfig := middleware.DefaultLoggerConfig
	logConfig.Skipper = logSkipper(lvl)

	e.Logger.SetLevel(lvl)
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.LoggerWithConfig(logConfig))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(BodyLimit))
	e.HideBanner = true
	e.HidePort = lvl > log.INFO // hide the port output if the log level is higher than INFO
	e.Validator = NewValidator()
	e.HTTPErrorHandler = errorHandler

	return e
}
