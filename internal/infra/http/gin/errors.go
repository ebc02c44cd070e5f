package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"campusmarket/internal/domain/shared/errs"
)

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuth:
		return http.StatusUnauthorized
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error", "kind"}. Internal and corrupt errors hide their detail.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)
	message := errs.ReasonOf(err)
	if status == http.StatusInternalServerError {
		if logger != nil {
			logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "kind", kind, "error", err)
		}
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message, "kind": kind})
}
