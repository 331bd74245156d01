package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"inkediin-backend/internal/apperr"
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindNotFound:          http.StatusNotFound,
	apperr.KindInvalidTransition: http.StatusConflict,
	apperr.KindForbidden:         http.StatusForbidden,
	apperr.KindValidation:        http.StatusBadRequest,
	apperr.KindConflict:          http.StatusConflict,
}

// writeError maps a typed failure to its HTTP status. Anything else is an
// internal error whose details stay in the log.
func writeError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		status, ok := statusByKind[appErr.Kind]
		if !ok {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": appErr.Error(), "code": appErr.Kind})
		return
	}
	log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "code": "internal_error"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperr.KindValidation})
}
