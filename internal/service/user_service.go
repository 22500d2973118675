package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
)

type userRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	UpdateProfile(ctx context.Context, user *models.User) error
	UpdateSignaturePath(ctx context.Context, id, path string) error
}

type signatureStore interface {
	SaveSignature(userID, ext string, data []byte) (string, error)
	Path(relPath string) string
}

type urlSigner interface {
	Generate(subjectID, relPath string) (string, time.Time, error)
	Parse(token string) (subjectID, relPath string, expiresAt time.Time, err error)
}

// UpdateProfileRequest carries mutable profile fields.
type UpdateProfileRequest struct {
	FullName     string  `json:"full_name" validate:"required"`
	MatricNumber *string `json:"matric_number,omitempty"`
	DepartmentID *string `json:"department_id,omitempty"`
	Level        *int    `json:"level,omitempty" validate:"omitempty,min=100,max=900"`
	Phone        *string `json:"phone,omitempty"`
}

// SignatureUploadResult reports the stored signature image.
type SignatureUploadResult struct {
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// SignedImageURL is a time-limited download reference for a signature image.
type SignedImageURL struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserService handles profile and signature image management.
type UserService struct {
	repo       userRepository
	signatures signatureStore
	signer     urlSigner
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewUserService constructs a UserService.
func NewUserService(repo userRepository, signatures signatureStore, signer urlSigner, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, signatures: signatures, signer: signer, validator: validate, logger: logger}
}

// Get returns a user profile.
func (s *UserService) Get(ctx context.Context, id string) (*models.UserInfo, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	info := userInfo(user)
	return &info, nil
}

// List returns users matching the filter with pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return users, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// UpdateProfile applies the mutable profile fields for the user.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	user.FullName = req.FullName
	user.MatricNumber = req.MatricNumber
	user.DepartmentID = req.DepartmentID
	user.Level = req.Level
	user.Phone = req.Phone

	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update profile")
	}

	info := userInfo(user)
	return &info, nil
}

// UploadSignature stores a signature image for an officer and records the
// path on the profile. Students have no use for one but the portal never
// stopped them uploading; the workflow only consults officer images.
func (s *UserService) UploadSignature(ctx context.Context, userID, ext string, data []byte) (*SignatureUploadResult, error) {
	if _, err := s.repo.FindByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	relPath, err := s.signatures.SaveSignature(userID, ext, data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	if err := s.repo.UpdateSignaturePath(ctx, userID, relPath); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record signature path")
	}

	s.logger.Sugar().Infow("signature image stored", "user_id", userID, "path", relPath)
	return &SignatureUploadResult{Path: relPath, UploadedAt: time.Now().UTC()}, nil
}

// SignatureURL mints a time-limited token for downloading the user's
// signature image.
func (s *UserService) SignatureURL(ctx context.Context, userID string) (*SignedImageURL, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if user.SignaturePath == nil || *user.SignaturePath == "" {
		return nil, appErrors.Clone(appErrors.ErrMissingSignature, "no signature image on file")
	}

	token, expiresAt, err := s.signer.Generate(userID, *user.SignaturePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	return &SignedImageURL{Token: token, ExpiresAt: expiresAt}, nil
}

// ResolveSignatureToken validates a download token and returns the absolute
// file path of the referenced image.
func (s *UserService) ResolveSignatureToken(token string) (string, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, fmt.Sprintf("invalid download token: %v", err))
	}
	return s.signatures.Path(relPath), nil
}
