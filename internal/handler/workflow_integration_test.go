package handler

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	internalmiddleware "github.com/davidolu/coursereg-api/internal/middleware"
	"github.com/davidolu/coursereg-api/internal/models"
	"github.com/davidolu/coursereg-api/internal/service"
)

func TestWorkflowRoutesIntegration(t *testing.T) {
	t.Run("review unauthorized without claims", func(t *testing.T) {
		router, _ := buildWorkflowRouter(models.RegistrationStatusPending)
		req, _ := http.NewRequest(http.MethodPost, "/registrations/reg-1/review", bytes.NewBufferString(`{"action":"approve"}`))
		req.Header.Set("Content-Type", "application/json")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("review forbidden for students", func(t *testing.T) {
		router, _ := buildWorkflowRouter(models.RegistrationStatusPending)
		req, _ := http.NewRequest(http.MethodPost, "/registrations/reg-1/review", bytes.NewBufferString(`{"action":"approve"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleStudent))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("review approve success", func(t *testing.T) {
		router, repo := buildWorkflowRouter(models.RegistrationStatusPending)
		req, _ := http.NewRequest(http.MethodPost, "/registrations/reg-1/review", bytes.NewBufferString(`{"action":"approve"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleHOD))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"status":"approved"`)
		require.Len(t, repo.approvals, 1)
	})

	t.Run("re-approving records another approval row", func(t *testing.T) {
		router, repo := buildWorkflowRouter(models.RegistrationStatusApproved)
		req, _ := http.NewRequest(http.MethodPost, "/registrations/reg-1/review", bytes.NewBufferString(`{"action":"approve"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleHOD))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"status":"approved"`)
		require.Len(t, repo.approvals, 1)
	})

	t.Run("sign out of order reports the missing officer", func(t *testing.T) {
		router, _ := buildWorkflowRouter(models.RegistrationStatusApproved)
		req, _ := http.NewRequest(http.MethodPost, "/registrations/reg-1/sign", nil)
		req.Header.Set("X-Test-Role", string(models.RoleHOD))
		req.Header.Set("X-Test-User", "hod-1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusConflict, resp.Code)
		require.Contains(t, resp.Body.String(), "The Registration Officer must sign before you")
	})

	t.Run("first sign by registration officer succeeds", func(t *testing.T) {
		router, repo := buildWorkflowRouter(models.RegistrationStatusApproved)
		req, _ := http.NewRequest(http.MethodPost, "/registrations/reg-1/sign", nil)
		req.Header.Set("X-Test-Role", string(models.RoleRegistrationOfficer))
		req.Header.Set("X-Test-User", "ro-1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusCreated, resp.Code)
		require.Contains(t, resp.Body.String(), `"signature_title":"Registration Officer"`)
		require.Len(t, repo.signatures, 1)
	})

	t.Run("sign pending registration fails precondition", func(t *testing.T) {
		router, _ := buildWorkflowRouter(models.RegistrationStatusPending)
		req, _ := http.NewRequest(http.MethodPost, "/registrations/reg-1/sign", nil)
		req.Header.Set("X-Test-Role", string(models.RoleRegistrationOfficer))
		req.Header.Set("X-Test-User", "ro-1")
		resp := performRequest(router, req)
		require.Equal(t, http.StatusPreconditionFailed, resp.Code)
	})
}

func buildWorkflowRouter(status models.RegistrationStatus) (*gin.Engine, *workflowRepoFake) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			userID := c.GetHeader("X-Test-User")
			if userID == "" {
				userID = "test-user"
			}
			c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{
				UserID: userID,
				Role:   models.UserRole(role),
			})
		}
		c.Next()
	})

	repo := &workflowRepoFake{
		registration: models.Registration{
			ID:        "reg-1",
			StudentID: "stu-1",
			SessionID: "sess-1",
			Semester:  "2",
			Status:    status,
		},
	}
	workflowSvc := service.NewWorkflowService(repo, &signerReaderFake{}, nil, nil, nil, nil, zap.NewNop())
	h := NewRegistrationHandler(nil, workflowSvc, nil)

	router.POST("/registrations/:id/review", internalmiddleware.RequireCapability(models.CapReviewRegistration), h.Review)
	router.POST("/registrations/:id/sign", internalmiddleware.RequireCapability(models.CapAppendSignature), h.Sign)

	return router, repo
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type workflowRepoFake struct {
	registration models.Registration
	approvals    []models.RegistrationApproval
	signatures   []models.RegistrationSignatureDetail
}

func (f *workflowRepoFake) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	if id != f.registration.ID {
		return nil, sql.ErrNoRows
	}
	reg := f.registration
	return &reg, nil
}

func (f *workflowRepoFake) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	reg, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.RegistrationDetail{Registration: *reg, StudentName: "Ada Obi", StudentEmail: "ada@school.test", SessionName: "2025/2026"}, nil
}

func (f *workflowRepoFake) UpdateStatus(ctx context.Context, id string, status models.RegistrationStatus) error {
	f.registration.Status = status
	return nil
}

func (f *workflowRepoFake) CreateApproval(ctx context.Context, approval *models.RegistrationApproval) error {
	f.approvals = append(f.approvals, *approval)
	return nil
}

func (f *workflowRepoFake) CreateSignature(ctx context.Context, sig *models.RegistrationSignature) error {
	sig.ID = "sig-1"
	f.signatures = append(f.signatures, models.RegistrationSignatureDetail{RegistrationSignature: *sig})
	return nil
}

func (f *workflowRepoFake) ListSignatures(ctx context.Context, registrationID string) ([]models.RegistrationSignatureDetail, error) {
	return f.signatures, nil
}

type signerReaderFake struct{}

func (signerReaderFake) FindByID(ctx context.Context, id string) (*models.User, error) {
	path := "signatures/" + id + ".png"
	user := &models.User{ID: id, FullName: "Test Officer", SignaturePath: &path, Active: true}
	switch {
	case id == "ro-1":
		user.Role = models.RoleRegistrationOfficer
	case id == "hod-1":
		user.Role = models.RoleHOD
	case id == "so-1":
		user.Role = models.RoleSchoolOfficer
	default:
		user.Role = models.RoleStudent
	}
	return user, nil
}
