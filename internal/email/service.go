package email

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// Dialer sends composed messages. gomail's *Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Service handles email sending via SMTP
type Service struct {
	dialer Dialer
	from   string
}

// NewService creates an SMTP-backed email service.
func NewService(host string, port int, username, password, from string) *Service {
	return NewServiceWithDialer(gomail.NewDialer(host, port, username, password), from)
}

func NewServiceWithDialer(d Dialer, from string) *Service {
	return &Service{dialer: d, from: from}
}

// SendOrderConfirmation sends an order confirmation email
func (s *Service) SendOrderConfirmation(to string, summary OrderSummary) error {
	subject := fmt.Sprintf("Order confirmed: #%s", shortID(summary.OrderID))
	return s.send(to, subject, BuildOrderConfirmationBody(summary))
}

// SendStatusChange tells the buyer their order moved to a new status.
func (s *Service) SendStatusChange(to, orderID, from, status string) error {
	subject := fmt.Sprintf("Order #%s is now %s", shortID(orderID), status)
	return s.send(to, subject, BuildStatusChangeBody(orderID, from, status))
}

func (s *Service) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
