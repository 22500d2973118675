package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidolu/coursereg-api/internal/models"
	appErrors "github.com/davidolu/coursereg-api/pkg/errors"
)

type mockUserRepo struct {
	users map[string]*models.User
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var out []models.User
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, user *models.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) UpdateSignaturePath(ctx context.Context, id, path string) error {
	m.users[id].SignaturePath = &path
	return nil
}

type mockSignatureStore struct {
	saved map[string][]byte
	err   error
}

func (m *mockSignatureStore) SaveSignature(userID, ext string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	rel := userID + ext
	m.saved[rel] = data
	return rel, nil
}

func (m *mockSignatureStore) Path(relPath string) string {
	return "/var/signatures/" + relPath
}

type mockURLSigner struct{}

func (mockURLSigner) Generate(subjectID, relPath string) (string, time.Time, error) {
	return subjectID + "." + relPath, time.Now().Add(30 * time.Minute), nil
}

func (mockURLSigner) Parse(token string) (string, string, time.Time, error) {
	if token == "bad" {
		return "", "", time.Time{}, errors.New("signature mismatch")
	}
	return "user-1", "user-1.png", time.Now().Add(time.Minute), nil
}

func TestUserServiceUploadSignatureStoresPath(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", Role: models.RoleRegistrationOfficer, Active: true},
	}}
	store := &mockSignatureStore{}
	svc := NewUserService(repo, store, mockURLSigner{}, validator.New(), zap.NewNop())

	result, err := svc.UploadSignature(context.Background(), "user-1", ".png", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "user-1.png", result.Path)
	require.NotNil(t, repo.users["user-1"].SignaturePath)
	assert.Equal(t, "user-1.png", *repo.users["user-1"].SignaturePath)
}

func TestUserServiceUploadSignatureRejectsBadExtension(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", Active: true},
	}}
	store := &mockSignatureStore{err: errors.New("unsupported signature image type .gif")}
	svc := NewUserService(repo, store, mockURLSigner{}, validator.New(), zap.NewNop())

	_, err := svc.UploadSignature(context.Background(), "user-1", ".gif", []byte("img"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.users["user-1"].SignaturePath)
}

func TestUserServiceSignatureURLWithoutImage(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", Active: true},
	}}
	svc := NewUserService(repo, &mockSignatureStore{}, mockURLSigner{}, validator.New(), zap.NewNop())

	_, err := svc.SignatureURL(context.Background(), "user-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMissingSignature.Code, appErrors.FromError(err).Code)
}

func TestUserServiceResolveSignatureToken(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{}}
	svc := NewUserService(repo, &mockSignatureStore{}, mockURLSigner{}, validator.New(), zap.NewNop())

	path, err := svc.ResolveSignatureToken("good")
	require.NoError(t, err)
	assert.Equal(t, "/var/signatures/user-1.png", path)

	_, err = svc.ResolveSignatureToken("bad")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestUserServiceUpdateProfile(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"user-1": {ID: "user-1", FullName: "Old Name", Active: true},
	}}
	svc := NewUserService(repo, &mockSignatureStore{}, mockURLSigner{}, validator.New(), zap.NewNop())

	matric := "CPE/2021/014"
	level := 500
	info, err := svc.UpdateProfile(context.Background(), "user-1", UpdateProfileRequest{
		FullName:     "Ada Obi",
		MatricNumber: &matric,
		Level:        &level,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada Obi", info.FullName)
	require.NotNil(t, info.MatricNumber)
	assert.Equal(t, matric, *info.MatricNumber)
}
