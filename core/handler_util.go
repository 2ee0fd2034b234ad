package core

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// respondError sends unified error payload {"error": {"code", "message"}}.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// respondDomainError maps an engine error kind to an HTTP status.
func respondDomainError(c *gin.Context, err error) {
	kind := Kind(err)
	switch kind {
	case KindValidation:
		respondError(c, http.StatusBadRequest, kind, err.Error())
	case KindNotFound:
		respondError(c, http.StatusNotFound, kind, err.Error())
	case KindConflict:
		respondError(c, http.StatusConflict, kind, err.Error())
	default:
		respondError(c, http.StatusInternalServerError, kind, "internal error")
	}
}
