package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/memberships/internal/app/repository"
	"github.com/fatflowers/memberships/internal/app/service/membership"
	"github.com/fatflowers/memberships/internal/app/service/payment"
	"github.com/fatflowers/memberships/internal/app/service/statistics"
	"github.com/fatflowers/memberships/pkg/logctx"
	"github.com/fatflowers/memberships/pkg/response"
)

var paymentErrors = []error{payment.ErrPaymentFailed, payment.ErrNoPaymentMethod, payment.ErrProviderDown, payment.ErrInvalidAmount}

// codeFor maps a service error onto the response envelope code.
func codeFor(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, membership.ErrNotOwner):
		return response.APIResponseCodeForbidden
	case errors.Is(err, membership.ErrAlreadySubscribed), errors.Is(err, membership.ErrConcurrentChange):
		return response.APIResponseCodeConflict
	case membership.IsValidation(err),
		errors.Is(err, statistics.ErrInvalidRequest),
		errors.Is(err, repository.ErrInvalidScan):
		return response.APIResponseCodeBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return response.APIResponseCodeNotFound
	}
	for _, target := range paymentErrors {
		if errors.Is(err, target) {
			return response.APIResponseCodePaymentFailed
		}
	}
	return response.APIResponseCodeError
}

func writeError(c *gin.Context, log *zap.SugaredLogger, err error) {
	code := codeFor(err)
	if code == response.APIResponseCodeError {
		logctx.FromGin(c, log).Errorw("request failed", "path", c.FullPath(), "err", err)
	}
	_ = c.Error(err)
	c.JSON(http.StatusOK, response.ErrorT[any](code, err.Error()))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, msg))
}
