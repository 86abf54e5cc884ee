package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"text/template"

	"gopkg.in/gomail.v2"

	"device-registry-backend/config"
)

var ErrNoEmail = errors.New("contact has no email address")

// MailSender delivers codes over SMTP.
type MailSender struct {
	cfg  config.MailConfig
	send func(m *gomail.Message) error
}

func NewMailSender(cfg config.MailConfig) *MailSender {
	s := &MailSender{cfg: cfg}
	s.send = s.dialAndSend
	return s
}

func (s *MailSender) dialAndSend(m *gomail.Message) error {
	n := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	if s.cfg.Insecure {
		n.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if !s.cfg.SSL {
		n.SSL = false
	}
	return n.DialAndSend(m)
}

// Send builds the message and hands it to the SMTP server. gomail has no context support,
// so the dial keeps running in the background after ctx is done.
func (s *MailSender) Send(ctx context.Context, d Delivery) error {
	if d.Contact.Email == "" {
		return ErrNoEmail
	}

	body := new(bytes.Buffer)
	if err := mailTemplate.Execute(body, struct {
		Message string
	}{Message: message(d)}); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.cfg.From)
	msg.SetHeader("To", d.Contact.Email)
	msg.SetHeader("Subject", "Your device transfer code")
	msg.SetBody("text/plain", body.String())

	done := make(chan error, 1)
	go func() {
		done <- s.send(msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var mailTemplate = template.Must(template.New("otpmail").Parse(`Hello,

{{ .Message }}

This code confirms that you, the current owner, authorize the transfer.
`))
