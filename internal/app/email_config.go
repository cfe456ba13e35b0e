package app

import (
	"go.uber.org/zap"

	"github.com/charlesng35/studyhub/pkg/mail"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// NewMailer returns the SMTP mailer when enabled and a logging mailer otherwise,
// throttled to the configured send rate.
func (c EmailConfig) NewMailer(log *zap.Logger) (mail.Mailer, error) {
	var (
		mailer mail.Mailer
		err    error
	)
	if c.SMTP.Enabled {
		mailer, err = mail.NewSMTPMailer(c.SMTPSettings())
		if err != nil {
			return nil, err
		}
	} else {
		mailer = mail.NewLogMailer(log)
	}
	return mail.NewThrottledMailer(mailer, c.RatePerSecond, c.Burst), nil
}
