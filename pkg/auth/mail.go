package auth

import (
	"fmt"

	"github.com/formy-ai/formy/pkg/config"
	"github.com/formy-ai/formy/pkg/errors"
	"github.com/formy-ai/formy/pkg/logger/log"
	"gopkg.in/gomail.v2"
)

// CodeSender delivers verification codes.
type CodeSender interface {
	SendCode(email, code string) error
}

// SMTPSender delivers codes over SMTP.
type SMTPSender struct {
	conf config.MailConfig
}

// NewSMTPSender creates an SMTP-backed sender.
func NewSMTPSender(conf config.MailConfig) *SMTPSender {
	return &SMTPSender{conf: conf}
}

func (s *SMTPSender) SendCode(email, code string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.conf.From)
	m.SetHeader("To", email)
	m.SetHeader("Subject", "Your Formy verification code")
	m.SetBody("text/plain", fmt.Sprintf(
		"Your verification code is %s. It expires in 10 minutes.", code))

	d := gomail.NewDialer(s.conf.SMTPHost, s.conf.SMTPPort, s.conf.Username, s.conf.Password)
	return d.DialAndSend(m)
}

// LogSender writes codes to the log instead of sending mail. Used in local
// development when no SMTP provider is configured.
type LogSender struct{}

func (LogSender) SendCode(email, code string) error {
	log.Infof("verification code for %s: %s", email, code)
	return nil
}

// disabledSender refuses every delivery. Installed when no provider is
// configured outside debug mode, so the failure surfaces instead of codes
// silently going nowhere.
type disabledSender struct{}

func (disabledSender) SendCode(string, string) error {
	return errors.NewError().WithKind(errors.KindInternalError).
		WithMessage("mail provider is not configured")
}

// NewSender picks the SMTP sender when mail is configured. Without a
// provider, codes go to the log in debug mode and are refused otherwise.
func NewSender(conf config.MailConfig, debug bool) CodeSender {
	if conf.Configured() {
		return NewSMTPSender(conf)
	}
	if debug {
		return LogSender{}
	}
	return disabledSender{}
}
