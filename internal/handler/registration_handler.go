package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/davidolu/coursereg-api/internal/models"
	"github.com/davidolu/coursereg-api/internal/service"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
	"github.com/davidolu/coursereg-api/pkg/response"
)

// RegistrationHandler exposes registration, workflow and export endpoints.
type RegistrationHandler struct {
	registrations *service.RegistrationService
	workflow      *service.WorkflowService
	forms         *service.FormService
}

// NewRegistrationHandler constructs a registration handler.
func NewRegistrationHandler(registrations *service.RegistrationService, workflow *service.WorkflowService, forms *service.FormService) *RegistrationHandler {
	return &RegistrationHandler{registrations: registrations, workflow: workflow, forms: forms}
}

// Submit godoc
// @Summary Submit course registration
// @Description Submit selected courses for the session, entering the approval workflow
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body service.SubmitRegistrationRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations [post]
func (h *RegistrationHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SubmitRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid registration payload"))
		return
	}

	view, err := h.registrations.Submit(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, view)
}

// List godoc
// @Summary List registrations
// @Description List registrations. Students see only their own.
// @Tags Registrations
// @Produce json
// @Param sessionId query string false "Filter by session"
// @Param status query string false "Filter by status"
// @Param semester query string false "Filter by semester"
// @Param studentId query string false "Filter by student (officers only)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /registrations [get]
func (h *RegistrationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := registrationFilterFromQuery(c)
	registrations, pagination, err := h.registrations.List(c.Request.Context(), claims, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, registrations, pagination)
}

// Get godoc
// @Summary Get registration
// @Description Get a registration with courses, approvals and signatures
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id} [get]
func (h *RegistrationHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	view, err := h.registrations.Get(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// EditCourses godoc
// @Summary Edit registration courses
// @Description Replace, add or remove line items on a registration
// @Tags Registrations
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body service.EditRegistrationRequest true "Edit payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /registrations/{id}/courses [put]
func (h *RegistrationHandler) EditCourses(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.EditRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid edit payload"))
		return
	}

	view, err := h.registrations.EditCourses(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Deregister godoc
// @Summary Deregister a course
// @Description Remove one approved course from the student's registration
// @Tags Registrations
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/courses/{courseId} [delete]
func (h *RegistrationHandler) Deregister(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	result, err := h.registrations.Deregister(c.Request.Context(), claims, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Cleanup godoc
// @Summary Purge empty registrations
// @Description Delete registrations whose total units dropped to zero
// @Tags Registrations
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /registrations/cleanup [post]
func (h *RegistrationHandler) Cleanup(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	removed, err := h.registrations.CleanupEmpty(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"removed": removed}, nil)
}

// Review godoc
// @Summary Review registration
// @Description Approve or reject a pending registration
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Registration ID"
// @Param payload body service.ReviewRequest true "Review payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id}/review [post]
func (h *RegistrationHandler) Review(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
		return
	}

	registration, err := h.workflow.Review(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, registration, nil)
}

// Sign godoc
// @Summary Countersign registration
// @Description Append the caller's signature to an approved registration
// @Tags Workflow
// @Produce json
// @Param id path string true "Registration ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /registrations/{id}/sign [post]
func (h *RegistrationHandler) Sign(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	signature, err := h.workflow.AppendSignature(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, signature)
}

// Form godoc
// @Summary Get registration form
// @Description Registration form data with signed signature image links
// @Tags Registrations
// @Produce json
// @Param id path string true "Registration ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id}/form [get]
func (h *RegistrationHandler) Form(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	view, err := h.forms.Form(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// FormPDF godoc
// @Summary Download registration form
// @Description Render the printable registration form as PDF
// @Tags Registrations
// @Produce application/pdf
// @Param id path string true "Registration ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /registrations/{id}/form.pdf [get]
func (h *RegistrationHandler) FormPDF(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	pdfBytes, filename, err := h.forms.RenderFormPDF(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", pdfBytes)
}

// ExportCSV godoc
// @Summary Export registrations
// @Description Export registrations matching the filter as CSV
// @Tags Registrations
// @Produce text/csv
// @Param sessionId query string false "Filter by session"
// @Param status query string false "Filter by status"
// @Param semester query string false "Filter by semester"
// @Success 200 {file} binary
// @Router /registrations/export [get]
func (h *RegistrationHandler) ExportCSV(c *gin.Context) {
	filter := registrationFilterFromQuery(c)
	csvBytes, filename, err := h.forms.ExportCSV(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", csvBytes)
}

func registrationFilterFromQuery(c *gin.Context) models.RegistrationFilter {
	var filter models.RegistrationFilter
	filter.SessionID = c.Query("sessionId")
	filter.StudentID = c.Query("studentId")
	if status := c.Query("status"); status != "" {
		filter.Status = models.RegistrationStatus(status)
	}
	filter.Semester = c.Query("semester")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	return filter
}
