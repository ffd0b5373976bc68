package mailer

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/noah-isme/campus-events-api/pkg/config"
	"github.com/noah-isme/campus-events-api/pkg/jobs"
)

// Sender delivers one notification email.
type Sender interface {
	Send(payload jobs.EmailPayload) error
}

// SMTPMailer renders and sends notification emails over SMTP.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
	logger *zap.Logger
}

// NewSMTPMailer builds a mailer from SMTP settings.
func NewSMTPMailer(cfg config.SMTPConfig, logger *zap.Logger) *SMTPMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		logger: logger,
	}
}

// Send renders the template for the payload kind and delivers it.
func (m *SMTPMailer) Send(payload jobs.EmailPayload) error {
	subject, body := render(payload)

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", payload.Recipient)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send %s email: %w", payload.Kind, err)
	}
	m.logger.Info("email sent",
		zap.String("kind", string(payload.Kind)),
		zap.String("recipient", payload.Recipient),
	)
	return nil
}

func render(p jobs.EmailPayload) (subject, body string) {
	when := p.StartTime.Format(time.RFC1123)
	switch p.Kind {
	case jobs.EmailConfirmation:
		if p.Status == "waitlisted" {
			subject = fmt.Sprintf("You are waitlisted for %s", p.EventTitle)
			body = fmt.Sprintf("<p>The event <b>%s</b> is currently full. You are on the waitlist and will be moved up automatically when a seat frees.</p><p>%s, %s</p>",
				p.EventTitle, p.EventVenue, when)
			return
		}
		subject = fmt.Sprintf("Registration confirmed: %s", p.EventTitle)
		body = fmt.Sprintf("<p>Your seat for <b>%s</b> is confirmed.</p><p>%s, %s</p>",
			p.EventTitle, p.EventVenue, when)
		if p.QRCode != "" {
			body += fmt.Sprintf(`<p>Show this ticket at the entrance:</p><img src="%s" alt="ticket"/>`, p.QRCode)
		}
	case jobs.EmailPromotion:
		subject = fmt.Sprintf("A seat opened up: %s", p.EventTitle)
		body = fmt.Sprintf("<p>Good news! You have been moved off the waitlist and now hold a seat for <b>%s</b>.</p><p>%s, %s</p>",
			p.EventTitle, p.EventVenue, when)
		if p.QRCode != "" {
			body += fmt.Sprintf(`<p>Show this ticket at the entrance:</p><img src="%s" alt="ticket"/>`, p.QRCode)
		}
	case jobs.EmailCancellation:
		subject = fmt.Sprintf("Registration cancelled: %s", p.EventTitle)
		body = fmt.Sprintf("<p>Your registration for <b>%s</b> has been cancelled.</p>", p.EventTitle)
		if p.Reason != "" {
			body += fmt.Sprintf("<p>Reason: %s</p>", p.Reason)
		}
	case jobs.EmailReminder:
		subject = fmt.Sprintf("Reminder: %s is tomorrow", p.EventTitle)
		body = fmt.Sprintf("<p><b>%s</b> starts %s at %s. See you there!</p>",
			p.EventTitle, when, p.EventVenue)
	case jobs.EmailEventCancelled:
		subject = fmt.Sprintf("Event cancelled: %s", p.EventTitle)
		body = fmt.Sprintf("<p>We are sorry: <b>%s</b> (%s, %s) has been cancelled by the organizer. Your registration was removed.</p>",
			p.EventTitle, p.EventVenue, when)
	default:
		subject = p.EventTitle
		body = fmt.Sprintf("<p>Update for <b>%s</b>.</p>", p.EventTitle)
	}
	return
}

// NoopSender drops every email. Used in tests.
type NoopSender struct{}

// Send discards the payload.
func (NoopSender) Send(jobs.EmailPayload) error { return nil }
