package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound  = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		code, message := errorResponse(err, translator)

		if code == http.StatusInternalServerError {
			fields := map[string]interface{}{
				"method": ctx.Request().Method,
				"path":   ctx.Path(),
			}
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				fields["subject"] = claims.Subject
			}
			logger.Error(http.StatusText(code), err, fields)

			if ctx.Echo().Debug {
				message = echo.Map{"error": err.Error()}
			}

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				logger.Error("writing error response", err)
			}
		}
	}
}

// errorResponse maps err to a status code and a JSON body.
func errorResponse(err error, translator ut.Translator) (int, interface{}) {
	var (
		httpErr   *echo.HTTPError
		valErrs   validator.ValidationErrors
		valErr    *core.ValidationError
		notFound  *core.NotFoundError
		conflict  *core.ConflictError
		duplicate *core.DuplicateError
	)

	switch {
	case errors.As(err, &httpErr):
		if httpErr == middleware.ErrJWTMissing {
			return http.StatusUnauthorized, echo.Map{"error": httpErr.Message}
		}
		if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
			httpErr = herr
		}
		if msg, ok := httpErr.Message.(string); ok {
			return httpErr.Code, echo.Map{"error": msg}
		}
		return httpErr.Code, httpErr.Message
	case errors.As(err, &valErrs):
		fldErrs := make(map[string]string, len(valErrs))
		for _, vErr := range valErrs {
			fldErrs[fieldPath(vErr)] = vErr.Translate(translator)
		}
		return http.StatusBadRequest, fldErrs
	case errors.As(err, &valErr):
		if len(valErr.Fields) == 0 {
			return http.StatusBadRequest, echo.Map{"error": valErr.Error()}
		}
		fldErrs := make(map[string]string, len(valErr.Fields))
		for _, fErr := range valErr.Fields {
			fldErrs[fErr.Field] = fErr.Error
		}
		return http.StatusBadRequest, fldErrs
	case errors.As(err, &notFound):
		return http.StatusNotFound, echo.Map{"error": notFound.Error()}
	case errors.As(err, &conflict):
		return http.StatusConflict, echo.Map{"error": conflict.Error()}
	case errors.As(err, &duplicate):
		return http.StatusConflict, echo.Map{"error": duplicate.Error()}
	default: // any other error is a server error
		return http.StatusInternalServerError, echo.Map{"error": http.StatusText(http.StatusInternalServerError)}
	}
}

// fieldPath drops the top level struct name from the namespace: "NewVoucher.entries[0].amount" -> "entries[0].amount".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[i+1:]
		}
	}
	return fe.Field()
}
