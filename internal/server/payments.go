package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/rentflow/internal/payment/domain"
	"github.com/smallbiznis/rentflow/pkg/db/pagination"
)

type listPaymentsQuery struct {
	pagination.Pagination
	Status    string `form:"status"`
	MonthYear string `form:"month_year"`
	TenantID  string `form:"tenant_id"`
	LeaseID   string `form:"lease_id"`
}

type correctPaymentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) ListPayments(c *gin.Context) {
	var query listPaymentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), paymentdomain.ListRequest{
		Status:     strings.TrimSpace(query.Status),
		MonthYear:  strings.TrimSpace(query.MonthYear),
		TenantID:   strings.TrimSpace(query.TenantID),
		LeaseID:    strings.TrimSpace(query.LeaseID),
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Payments, "page_info": resp.PageInfo})
}

func (s *Server) GetPayment(c *gin.Context) {
	payment, err := s.paymentSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

// RecordPayment stores a payment taken at the office.
func (s *Server) RecordPayment(c *gin.Context) {
	var req paymentdomain.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) CorrectPaymentStatus(c *gin.Context) {
	var req correctPaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("status", "invalid_status", "status is required"))
		return
	}

	payment, err := s.paymentSvc.CorrectStatus(c.Request.Context(), strings.TrimSpace(c.Param("id")), req.Status)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

func (s *Server) PaymentSummary(c *gin.Context) {
	summary, err := s.paymentSvc.Summary(c.Request.Context(), strings.TrimSpace(c.Query("month_year")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) PaymentReceipt(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	reader, err := s.paymentSvc.Receipt(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.DataFromReader(http.StatusOK, -1, "application/pdf", reader, map[string]string{
		"Content-Disposition": fmt.Sprintf(`inline; filename="receipt-%s.pdf"`, id),
	})
}

func (s *Server) ListPaymentStatuses(c *gin.Context) {
	statuses, err := s.paymentSvc.ListStatuses(
		c.Request.Context(),
		strings.TrimSpace(c.Query("month_year")),
		strings.TrimSpace(c.Query("lease_id")),
		strings.TrimSpace(c.Query("status")),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": statuses})
}

// RecomputePaymentStatus rebuilds one month of a lease from its payments.
func (s *Server) RecomputePaymentStatus(c *gin.Context) {
	status, err := s.paymentSvc.Recompute(
		c.Request.Context(),
		strings.TrimSpace(c.Param("id")),
		strings.TrimSpace(c.Param("month")),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}
