package email

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Sender define la interfaz para entrega de correos de autenticación. El
// token viaja en claro hacia el destinatario; nunca se persiste aquí.
type Sender interface {
	SendWelcome(ctx context.Context, toEmail, firstName string) error
	SendVerification(ctx context.Context, toEmail, token string, expiresAt time.Time) error
	SendPasswordReset(ctx context.Context, toEmail, token string, expiresAt time.Time) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) fail() error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}

func (s *disabledSender) SendWelcome(context.Context, string, string) error {
	return s.fail()
}

func (s *disabledSender) SendVerification(context.Context, string, string, time.Time) error {
	return s.fail()
}

func (s *disabledSender) SendPasswordReset(context.Context, string, string, time.Time) error {
	return s.fail()
}

// LogSender escribe los correos al log en lugar de enviarlos. Útil en
// desarrollo: el token queda visible en la salida del proceso.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendWelcome(_ context.Context, toEmail, firstName string) error {
	s.logger.Info("email: welcome",
		zap.String("to", toEmail),
		zap.String("first_name", firstName),
	)
	return nil
}

func (s *LogSender) SendVerification(_ context.Context, toEmail, token string, expiresAt time.Time) error {
	s.logger.Info("email: verification token",
		zap.String("to", toEmail),
		zap.String("token", token),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}

func (s *LogSender) SendPasswordReset(_ context.Context, toEmail, token string, expiresAt time.Time) error {
	s.logger.Info("email: password reset token",
		zap.String("to", toEmail),
		zap.String("token", token),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}
