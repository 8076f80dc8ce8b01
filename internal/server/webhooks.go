package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ingestlogdomain "github.com/smallbiznis/rentflow/internal/ingestlog/domain"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
)

const maxWebhookBody = 1 << 20

// handleWebhook feeds the raw body to the pipeline. The gateway only sees a
// status word; the reason lives in the ipn log.
func (s *Server) handleWebhook(fixedProvider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := fixedProvider
		if provider == "" {
			provider = strings.TrimSpace(c.Param("provider"))
		}

		// A body over the limit or cut short is still logged, marked truncated.
		payload, readErr := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))

		result, err := s.webhookSvc.Ingest(c.Request.Context(), provider, payload, c.Request.Header, paymentdomain.RequestMeta{
			RemoteAddr: c.ClientIP(),
			Truncated:  readErr != nil,
		})
		if result != nil && result.LogID != 0 {
			c.Header("X-IPN-Log-Id", result.LogID.String())
		}
		if err != nil {
			_ = c.Error(err)
			status := webhookErrorStatus(err)
			body := "rejected"
			if status >= http.StatusInternalServerError {
				body = "error"
			}
			c.JSON(status, gin.H{"status": body})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": webhookAck(result)})
	}
}

func webhookAck(result *paymentdomain.IngestResult) string {
	if result == nil {
		return "ok"
	}
	switch result.Outcome {
	case ingestlogdomain.OutcomeDuplicateSkipped:
		return "duplicate"
	case ingestlogdomain.OutcomeNonSuccessSkipped:
		return "ignored"
	default:
		return "ok"
	}
}

func webhookErrorStatus(err error) int {
	switch {
	case errors.Is(err, paymentdomain.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, paymentdomain.ErrValidation),
		errors.Is(err, paymentdomain.ErrUnknownAccount):
		return http.StatusBadRequest
	case errors.Is(err, paymentdomain.ErrLeaseNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
