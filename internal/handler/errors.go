package handler

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"ticketflow/internal/model"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}
}

// jsonFieldName makes validation messages use the wire names.
func jsonFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}

// writeError maps domain errors to a status and a {"error": msg} body.
// Anything unrecognised is logged and answered with a generic 500.
func writeError(c *gin.Context, log zerolog.Logger, err error) {
	code, msg := resolveError(err)
	if code == http.StatusInternalServerError {
		log.Error().
			Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("unhandled error")
	}
	c.JSON(code, gin.H{"error": msg})
}

func resolveError(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Credenciales inválidas"
	case errors.Is(err, model.ErrInvalidToken):
		return http.StatusUnauthorized, "Invalid authentication token"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, notFoundMessage(err)
	case errors.Is(err, model.ErrDuplicateEmail):
		return http.StatusConflict, "El email ya está registrado"
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, strings.TrimSuffix(err.Error(), ": "+model.ErrInvalidInput.Error())
	}
	return http.StatusInternalServerError, "Internal server error"
}

// notFoundMessage keeps the "<kind> <id> not found" detail the stores attach.
func notFoundMessage(err error) string {
	if errors.Unwrap(err) == nil {
		return "Not found"
	}
	return err.Error()
}

// bindJSON decodes and validates the body. On failure it writes the 400 and
// returns false.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "Invalid request"
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fieldError(fe))
	}
	return strings.Join(msgs, "; ")
}

func fieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required", "required_without":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}
