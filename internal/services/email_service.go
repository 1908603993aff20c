package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/tmcfarland/docsmith/pkg/logger"
)

// EmailService defines the interface for sending account emails
type EmailService interface {
	SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress, baseURL string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// SendVerificationEmail sends the email-verification link. The raw token
// appears only in this email; storage holds its hash.
func (s *AWSSESEmailService) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/verify-email?token=%s", s.baseURL, token)
	hours := int(time.Until(expiresAt).Round(time.Hour).Hours())

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Verify your email address</h2>
  <p>Welcome to Docsmith! Click the link below to verify your email address:</p>
  <p><a href="%s">Verify email address</a></p>
  <p>Or paste this link into your browser:<br><code>%s</code></p>
  <p>This link expires in %d hours. If you didn't create a Docsmith account,
  you can ignore this email.</p>
</body>
</html>`, link, link, hours)

	textBody := fmt.Sprintf(`Verify your email address

Welcome to Docsmith! Open the link below to verify your email address:

%s

This link expires in %d hours. If you didn't create a Docsmith account, you
can ignore this email.
`, link, hours)

	return s.send(ctx, email, "Verify your Docsmith email address", htmlBody, textBody, "verification")
}

// SendPasswordResetEmail sends the password-reset link. Callers must not
// reveal through the API whether this was actually sent.
func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Reset your password</h2>
  <p>We received a request to reset the password for your Docsmith account.</p>
  <p><a href="%s">Reset password</a></p>
  <p>Or paste this link into your browser:<br><code>%s</code></p>
  <p>This link expires in %d minutes and can be used once. If you didn't
  request a reset, you can ignore this email; your password is unchanged.</p>
</body>
</html>`, link, link, minutes)

	textBody := fmt.Sprintf(`Reset your password

We received a request to reset the password for your Docsmith account. Open
the link below to choose a new password:

%s

This link expires in %d minutes and can be used once. If you didn't request
a reset, you can ignore this email; your password is unchanged.
`, link, minutes)

	return s.send(ctx, email, "Reset your Docsmith password", htmlBody, textBody, "password_reset")
}

func (s *AWSSESEmailService) send(ctx context.Context, email, subject, htmlBody, textBody, kind string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("kind", kind),
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("kind", kind),
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", *result.MessageId))

	return nil
}
