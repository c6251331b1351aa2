package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nulzo/relay/internal/core/domain"
	"github.com/nulzo/relay/internal/logger"
)

// ErrorHandler converts errors attached by handlers into RFC 9457 problem
// responses. Typed domain errors map to their natural status codes;
// anything unrecognized becomes a 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if problem, ok := err.(*domain.Problem); ok {
			if problem.Log != nil {
				logger.Error("request failed", zap.Error(problem.Log))
			}
			c.JSON(problem.Status, problem)
			c.Abort()
			return
		}

		problem := toProblem(err)
		if problem.Status >= 500 {
			logger.Error("request failed", zap.Error(err))
		}
		c.JSON(problem.Status, problem)
		c.Abort()
	}
}

func toProblem(err error) *domain.Problem {
	var (
		notFound  *domain.ModelNotFoundError
		invalid   *domain.InvalidUsageError
		confErr   *domain.ConfigurationError
		provider  *domain.ProviderError
		exhausted *domain.AllFallbacksFailedError
	)

	switch {
	case errors.As(err, &notFound):
		return domain.NewProblem(http.StatusNotFound, "Model Not Found", err.Error(),
			domain.WithExtension("model", notFound.ModelID))

	case errors.As(err, &invalid):
		return domain.NewProblem(http.StatusBadRequest, "Invalid Usage", err.Error())

	case errors.As(err, &confErr):
		return domain.NewProblem(http.StatusInternalServerError, "Configuration Error", err.Error(),
			domain.WithLog(err))

	case errors.As(err, &exhausted):
		return domain.NewProblem(http.StatusBadGateway, "All Fallbacks Failed", err.Error(),
			domain.WithExtension("provider", exhausted.Provider),
			domain.WithExtension("attempted", exhausted.Attempted))

	case errors.As(err, &provider):
		return domain.NewProblem(http.StatusBadGateway, "Provider Error", err.Error(),
			domain.WithExtension("provider", provider.Provider))

	default:
		return domain.NewProblem(http.StatusInternalServerError, "Internal Server Error",
			"An unexpected error occurred.", domain.WithLog(err))
	}
}
