package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/erpcore/automation-engine/internal/engine"
	"github.com/erpcore/automation-engine/pkg/config"
	"github.com/erpcore/automation-engine/pkg/logger"
)

// NotificationService sends email and SMS notifications. It backs the
// engine's Mailer and SMSSender capabilities: email via SMTP, SMS via
// an HTTP gateway.
type NotificationService struct {
	config *config.NotificationConfig
	logger *logger.Logger
	client *http.Client
}

// NewNotificationService creates a new notification service
func NewNotificationService(cfg *config.NotificationConfig, log *logger.Logger) *NotificationService {
	return &NotificationService{
		config: cfg,
		logger: log,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// EmailSender exposes the email channel as an engine Mailer
func (s *NotificationService) EmailSender() *EmailSender {
	return &EmailSender{service: s}
}

// SMSGateway exposes the SMS channel as an engine SMSSender
func (s *NotificationService) SMSGateway() *SMSGateway {
	return &SMSGateway{service: s}
}

// EmailSender sends email through the notification service's SMTP account
type EmailSender struct {
	service *NotificationService
}

// Send delivers an email. SMTP failures are wrapped as transient so the
// action executor retries them.
func (e *EmailSender) Send(ctx context.Context, to []string, subject, body string) error {
	return e.service.sendEmail(ctx, to, subject, body)
}

// SMSGateway sends SMS through the configured HTTP gateway
type SMSGateway struct {
	service *NotificationService
}

// Send delivers an SMS message
func (g *SMSGateway) Send(ctx context.Context, to []string, body string) error {
	return g.service.sendSMS(ctx, to, body)
}

func (s *NotificationService) sendEmail(ctx context.Context, to []string, subject, body string) error {
	if !s.config.Email.Enabled {
		s.logger.Debugf("Email disabled, dropping message to %s", strings.Join(to, ", "))
		return nil
	}

	var message bytes.Buffer
	message.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.FromAddress))
	message.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	message.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	message.WriteString("MIME-Version: 1.0\r\n")
	message.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	message.WriteString("\r\n")
	message.WriteString(body)

	auth := smtp.PlainAuth("", s.config.Email.SMTPUser, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	if err := smtp.SendMail(addr, auth, s.config.Email.FromAddress, to, message.Bytes()); err != nil {
		return engine.Transient(fmt.Errorf("failed to send email: %w", err))
	}

	s.logger.Infof("Email sent to %s", strings.Join(to, ", "))
	return nil
}

func (s *NotificationService) sendSMS(ctx context.Context, to []string, body string) error {
	if !s.config.SMS.Enabled {
		s.logger.Debugf("SMS disabled, dropping message to %s", strings.Join(to, ", "))
		return nil
	}

	payload := map[string]interface{}{
		"sender":  s.config.SMS.Sender,
		"to":      to,
		"message": body,
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.SMS.GatewayURL, bytes.NewReader(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.SMS.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return engine.Transient(fmt.Errorf("failed to call sms gateway: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return engine.Transient(fmt.Errorf("sms gateway returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sms gateway rejected message with status %d", resp.StatusCode)
	}

	s.logger.Infof("SMS sent to %s", strings.Join(to, ", "))
	return nil
}
