package notifications

import (
	"errors"
	"fmt"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"gopkg.in/gomail.v2"
)

type ExpoSender struct {
	client *expo.PushClient
}

func NewExpoSender() *ExpoSender {
	return &ExpoSender{client: expo.NewPushClient(nil)}
}

// Send publishes one message per token so each ticket maps back to its device.
func (s *ExpoSender) Send(tokens []string, title, body string, data map[string]string) ([]string, error) {
	var invalid []string
	var messages []expo.PushMessage
	var sent []string

	for _, raw := range tokens {
		token, err := expo.NewExponentPushToken(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		messages = append(messages, expo.PushMessage{
			To:       []expo.ExponentPushToken{token},
			Title:    title,
			Body:     body,
			Data:     data,
			Sound:    "default",
			Priority: expo.DefaultPriority,
		})
		sent = append(sent, raw)
	}
	if len(messages) == 0 {
		return invalid, nil
	}

	responses, err := s.client.PublishMultiple(messages)
	if err != nil {
		return invalid, fmt.Errorf("publish push notifications: %w", err)
	}

	var failed error
	for i := range responses {
		if i >= len(sent) {
			break
		}
		verr := responses[i].ValidateResponse()
		if verr == nil {
			continue
		}
		var notRegistered *expo.DeviceNotRegisteredError
		if errors.As(verr, &notRegistered) {
			invalid = append(invalid, sent[i])
			continue
		}
		failed = verr
	}
	return invalid, failed
}

func ValidPushToken(token string) bool {
	_, err := expo.NewExponentPushToken(token)
	return err == nil
}

type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, user, pass string) *SMTPMailer {
	return &SMTPMailer{dialer: gomail.NewDialer(host, port, user, pass), from: user}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return m.dialer.DialAndSend(msg)
}
