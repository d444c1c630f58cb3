package handler

import (
	"giftcard-ledger/internal/adapter/http/middleware"
	"giftcard-ledger/pkg/apperror"
	"giftcard-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// merchantFromContext returns the authenticated merchant or writes a 401.
func merchantFromContext(c *gin.Context) (uuid.UUID, bool) {
	merchantID, ok := middleware.MerchantID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return uuid.Nil, false
	}
	return merchantID, true
}

// pathID parses a uuid path parameter or writes a 400.
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, apperror.Validation(name+" must be a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// optionalUUID parses an already validated optional uuid field.
func optionalUUID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id := uuid.MustParse(s)
	return &id
}
