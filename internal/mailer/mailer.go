// Package mailer delivers one-time passcodes by email.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"filevault/internal/util"
)

const (
	passcodeSubject = "Your OTP Code"
	defaultTimeout  = 15 * time.Second
)

// Mailer sends a passcode to a user.
type Mailer interface {
	SendPasscode(ctx context.Context, msg PasscodeMessage) error
}

// PasscodeMessage is the content of one passcode email.
type PasscodeMessage struct {
	To   string `json:"to"`
	Name string `json:"name"`
	Code string `json:"code"`
}

func (m PasscodeMessage) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return errors.New("no recipient specified")
	}
	if strings.TrimSpace(m.Code) == "" {
		return errors.New("no passcode specified")
	}
	return nil
}

func (m PasscodeMessage) body() string {
	var b strings.Builder
	if name := strings.TrimSpace(m.Name); name != "" {
		fmt.Fprintf(&b, "Hi %s,\n\n", name)
	}
	fmt.Fprintf(&b, "Your OTP code is: %s\n", m.Code)
	return b.String()
}

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
}

func (c SMTPConfig) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("missing SMTP host")
	}
	if c.Port == 0 {
		return fmt.Errorf("missing SMTP port")
	}
	if strings.TrimSpace(c.From) == "" {
		return fmt.Errorf("missing SMTP from address")
	}
	return nil
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	cfg     SMTPConfig
	send    func(...*gomail.Message) error
	timeout time.Duration
}

// NewSMTPMailer validates cfg and prepares a dialer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SMTPMailer{cfg: cfg, send: dialer.DialAndSend, timeout: timeout}, nil
}

// SendPasscode dials the relay and sends one message. gomail has no context
// support, so the send runs in a goroutine bounded by the timeout.
func (m *SMTPMailer) SendPasscode(ctx context.Context, pm PasscodeMessage) error {
	if err := pm.validate(); err != nil {
		return err
	}
	msg := m.message(pm)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.send(msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send mail: %w", ctx.Err())
	}
}

func (m *SMTPMailer) message(pm PasscodeMessage) *gomail.Message {
	msg := gomail.NewMessage()
	if m.cfg.FromName != "" {
		msg.SetAddressHeader("From", m.cfg.From, m.cfg.FromName)
	} else {
		msg.SetHeader("From", m.cfg.From)
	}
	msg.SetHeader("To", pm.To)
	msg.SetHeader("Subject", passcodeSubject)
	msg.SetBody("text/plain", pm.body())
	return msg
}

// LogMailer writes passcodes to the log instead of sending them. It is
// meant for development when no SMTP relay is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer returns a LogMailer. A nil logger uses slog.Default.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// SendPasscode logs the code at warn level.
func (m *LogMailer) SendPasscode(ctx context.Context, pm PasscodeMessage) error {
	if err := pm.validate(); err != nil {
		return err
	}
	m.logger.WarnContext(ctx, "smtp not configured; passcode not emailed",
		"to", util.MaskEmail(pm.To),
		"passcode", pm.Code,
	)
	return nil
}
