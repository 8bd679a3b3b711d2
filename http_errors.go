package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

const (
	messageServerError = "Server error"
	messageNotFound    = "Not found"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Message string `json:"message"`
}

// ErrorHandler resolves any error returned by a handler into a status code
// and a {message} body. Internal details never reach the client.
func ErrorHandler(logger Logger) fiber.ErrorHandler {
	logger = normalizeLogger(logger)

	return func(c *fiber.Ctx, err error) error {
		status, message := ResolveError(err)

		if status >= http.StatusInternalServerError {
			var richErr *goerrors.Error
			details := ""
			if goerrors.As(err, &richErr) {
				details = print.MaybePrettyJSON(richErr.Metadata)
			}
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.OriginalURL(),
				"status", status,
				"error", err,
				"details", details,
			)
		} else {
			logger.Debug("request rejected",
				"method", c.Method(),
				"path", c.OriginalURL(),
				"status", status,
				"error", err,
			)
		}

		return c.Status(status).JSON(ErrorResponse{Message: message})
	}
}

// ResolveError maps err to an HTTP status and client facing message
func ResolveError(err error) (int, string) {
	if err == nil {
		return http.StatusInternalServerError, messageServerError
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		status := richErr.Code
		if status == 0 {
			status = statusForCategory(richErr)
		}
		if richErr.Category == goerrors.CategoryInternal || richErr.Message == "" {
			return status, messageServerError
		}
		return status, richErr.Message
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			return fiberErr.Code, messageNotFound
		case fiber.StatusRequestEntityTooLarge:
			return fiberErr.Code, ErrAvatarTooLarge.Message
		}
		if fiberErr.Code >= http.StatusInternalServerError {
			return fiberErr.Code, messageServerError
		}
		return fiberErr.Code, fiberErr.Message
	}

	return http.StatusInternalServerError, messageServerError
}

func statusForCategory(richErr *goerrors.Error) int {
	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
