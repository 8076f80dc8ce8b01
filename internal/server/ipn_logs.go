package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ingestlogdomain "github.com/smallbiznis/rentflow/internal/ingestlog/domain"
	"github.com/smallbiznis/rentflow/pkg/db/pagination"
)

type listIPNLogsQuery struct {
	pagination.Pagination
	Outcome   string `form:"outcome"`
	Reference string `form:"transaction_reference"`
	Processed string `form:"processed"`
}

func (s *Server) ListIPNLogs(c *gin.Context) {
	var query listIPNLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	processed, err := parseOptionalBool(query.Processed)
	if err != nil {
		AbortWithError(c, newValidationError("processed", "invalid_processed", "invalid processed"))
		return
	}

	resp, err := s.ingestLogSvc.List(c.Request.Context(), ingestlogdomain.ListRequest{
		Outcome:    strings.TrimSpace(query.Outcome),
		Reference:  strings.TrimSpace(query.Reference),
		Processed:  processed,
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func (s *Server) GetIPNLog(c *gin.Context) {
	entry, err := s.ingestLogSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

// ReplayIPNLog re-runs a stored notification. Pipeline rejections are part
// of the result, not request errors.
func (s *Server) ReplayIPNLog(c *gin.Context) {
	result, err := s.webhookSvc.Replay(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if result == nil {
		AbortWithError(c, err)
		return
	}

	body := gin.H{"data": result}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}
