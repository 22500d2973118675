package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/davidolu/coursereg-api/pkg/jobs"
)

type mailSender interface {
	Send(to, subject, body string) error
}

// NotificationService turns queued workflow events into outbound mail.
type NotificationService struct {
	mailer      mailSender
	frontendURL string
	logger      *zap.Logger
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(mailer mailSender, frontendURL string, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{mailer: mailer, frontendURL: frontendURL, logger: logger}
}

// HandleJob dispatches a queued notification job. Wired as the handler of the
// notification queue.
func (s *NotificationService) HandleJob(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case jobs.TypeRegistrationComplete:
		return s.handleRegistrationComplete(job)
	default:
		s.logger.Sugar().Warnw("unknown notification job type", "type", job.Type, "job_id", job.ID)
		return nil
	}
}

func (s *NotificationService) handleRegistrationComplete(job jobs.Job) error {
	payload, err := decodePayload[RegistrationCompletePayload](job.Payload)
	if err != nil {
		s.logger.Sugar().Errorw("malformed completion payload, dropping", "job_id", job.ID, "error", err)
		return nil
	}
	if payload.StudentEmail == "" {
		return nil
	}

	subject := "Course Registration Fully Signed"
	body := fmt.Sprintf(
		"Dear %s,\n\nYour course registration for the %s session (semester %s) has been approved and fully signed by all officers.\n\nYou can download the signed registration form at %s.\n\nRegards,\nThe Registration Office",
		payload.StudentName, payload.SessionName, payload.Semester, s.frontendURL)

	if err := s.mailer.Send(payload.StudentEmail, subject, body); err != nil {
		return fmt.Errorf("registration completion mail: %w", err)
	}
	return nil
}

// decodePayload tolerates both in-process structs and JSON round-trips.
func decodePayload[T any](raw interface{}) (T, error) {
	if typed, ok := raw.(T); ok {
		return typed, nil
	}
	var out T
	data, err := json.Marshal(raw)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
