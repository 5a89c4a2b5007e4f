package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	applicationdomain "github.com/omnifin/platform/internal/application/domain"
	"github.com/omnifin/platform/internal/authorization"
	commissiondomain "github.com/omnifin/platform/internal/commission/domain"
	groupdomain "github.com/omnifin/platform/internal/group/domain"
	lenderdomain "github.com/omnifin/platform/internal/lender/domain"
	progressdomain "github.com/omnifin/platform/internal/progress/domain"
	subscriptiondomain "github.com/omnifin/platform/internal/subscription/domain"
	usagedomain "github.com/omnifin/platform/internal/usage/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, progressdomain.ErrNotAuthorized):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, usagedomain.ErrRateLimited),
		errors.Is(err, progressdomain.ErrLocked):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, applicationdomain.ErrApplicationNotFound),
		errors.Is(err, subscriptiondomain.ErrNoActiveSubscription),
		errors.Is(err, usagedomain.ErrSubscriptionNotFound),
		errors.Is(err, commissiondomain.ErrCommissionNotFound),
		errors.Is(err, commissiondomain.ErrBatchNotFound),
		errors.Is(err, lenderdomain.ErrLenderNotFound),
		errors.Is(err, lenderdomain.ErrOfferNotFound),
		errors.Is(err, groupdomain.ErrInvalidGroup),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, groupdomain.ErrDuplicateSlug),
		errors.Is(err, lenderdomain.ErrDuplicateCode),
		errors.Is(err, lenderdomain.ErrOfferAlreadyAccepted),
		errors.Is(err, subscriptiondomain.ErrAlreadySubscribed),
		errors.Is(err, commissiondomain.ErrInvalidTransition),
		errors.Is(err, applicationdomain.ErrNotSubmittable):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, applicationdomain.ErrInvalidLoanType),
		errors.Is(err, applicationdomain.ErrInvalidAmount),
		errors.Is(err, applicationdomain.ErrInvalidTerm),
		errors.Is(err, applicationdomain.ErrInvalidStatus),
		errors.Is(err, applicationdomain.ErrInvalidGroup),
		errors.Is(err, applicationdomain.ErrInvalidApplicant),
		errors.Is(err, progressdomain.ErrInvalidStep),
		errors.Is(err, progressdomain.ErrInvalidDecision),
		errors.Is(err, usagedomain.ErrInvalidUsageType),
		errors.Is(err, usagedomain.ErrInvalidTokens),
		errors.Is(err, usagedomain.ErrInvalidGroup),
		errors.Is(err, usagedomain.ErrSubscriptionNotActive),
		errors.Is(err, subscriptiondomain.ErrInvalidPlan),
		errors.Is(err, subscriptiondomain.ErrPlanInactive),
		errors.Is(err, subscriptiondomain.ErrInvalidGroup),
		errors.Is(err, subscriptiondomain.ErrInvalidAmount),
		errors.Is(err, commissiondomain.ErrInvalidTrigger),
		errors.Is(err, commissiondomain.ErrInvalidGroup),
		errors.Is(err, commissiondomain.ErrInvalidBroker),
		errors.Is(err, commissiondomain.ErrInvalidRule),
		errors.Is(err, commissiondomain.ErrNothingToPayout),
		errors.Is(err, lenderdomain.ErrInvalidGroup),
		errors.Is(err, lenderdomain.ErrInvalidName),
		errors.Is(err, lenderdomain.ErrInvalidLoanBounds),
		errors.Is(err, lenderdomain.ErrLenderInactive),
		errors.Is(err, lenderdomain.ErrInvalidAmount),
		errors.Is(err, lenderdomain.ErrInvalidTerm),
		errors.Is(err, lenderdomain.ErrOfferNotPending),
		errors.Is(err, groupdomain.ErrInvalidName),
		errors.Is(err, groupdomain.ErrInvalidUser),
		errors.Is(err, groupdomain.ErrInvalidRole),
		errors.Is(err, groupdomain.ErrNotMember):
		return true
	default:
		return false
	}
}
