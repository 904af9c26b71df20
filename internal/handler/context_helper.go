package handler

import (
	"database/sql"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-automation/internal/middleware"
	"github.com/noah-isme/course-automation/internal/models"
	appErrors "github.com/noah-isme/course-automation/pkg/errors"
)

// claimsFromContext returns the caller's token claims, or nil on public routes.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := c.Get(middleware.ContextUserKey)
	if !ok {
		return nil
	}
	typed, _ := claims.(*models.JWTClaims)
	return typed
}

func translateLookupError(err error, notFound string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "lookup failed")
}
