package email

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"safety-listener/config"
	"safety-listener/models"

	"github.com/apex/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ErrInvalidAddress marks a recipient address that fails validation. It is
// never retried.
var ErrInvalidAddress = errors.New("invalid recipient address")

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]*[a-zA-Z0-9])?)*\.[a-zA-Z]{2,}$`)

// Transport sends one composed message to one address
type Transport interface {
	Send(ctx context.Context, to string, msg models.Message) error
}

// SendGridTransport sends mail through the SendGrid v3 API
type SendGridTransport struct {
	client    *sendgrid.Client
	fromName  string
	fromEmail string
}

// NewSendGridTransport creates the production mail transport
func NewSendGridTransport(cfg *config.Config) *SendGridTransport {
	return &SendGridTransport{
		client:    sendgrid.NewSendClient(cfg.SendGridAPIKey),
		fromName:  cfg.SendGridFromName,
		fromEmail: cfg.SendGridFromEmail,
	}
}

// Send sends one message to one recipient
func (t *SendGridTransport) Send(ctx context.Context, to string, msg models.Message) error {
	from := mail.NewEmail(t.fromName, t.fromEmail)
	recipient := mail.NewEmail(to, to)

	message := mail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(recipient)
	message.AddPersonalizations(p)

	message.AddContent(mail.NewContent("text/plain", msg.TextBody))
	message.AddContent(mail.NewContent("text/html", msg.HTMLBody))

	response, err := t.client.SendWithContext(ctx, message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d", response.StatusCode)
	}
	return nil
}

// Sender delivers composed messages with bounded retry. One Sender is shared
// by all dispatches.
type Sender struct {
	transport   Transport
	maxRetries  int
	baseDelay   time.Duration
	sendTimeout time.Duration
}

// NewSender creates a delivery engine over the given transport
func NewSender(transport Transport, cfg *config.Config) *Sender {
	return &Sender{
		transport:   transport,
		maxRetries:  cfg.MaxRetries,
		baseDelay:   cfg.RetryBaseDelay,
		sendTimeout: cfg.SendTimeout,
	}
}

// Deliver sends one message to one recipient, retrying transport failures
// with linear backoff up to the configured ceiling. Validation failures are
// terminal immediately. Every attempt and its outcome is logged.
func (s *Sender) Deliver(ctx context.Context, recipient string, eventID string, msg models.Message) models.DeliveryResult {
	result := models.DeliveryResult{Recipient: recipient, EventID: eventID}

	if !emailRegex.MatchString(recipient) {
		result.Error = ErrInvalidAddress.Error()
		log.WithField("event_id", eventID).Warnf("Skipping delivery to invalid address %q", recipient)
		return result
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		result.Attempts = attempt

		attemptCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
		err := s.transport.Send(attemptCtx, recipient, msg)
		cancel()

		logCtx := log.WithField("event_id", eventID).
			WithField("recipient", recipient).
			WithField("attempt", attempt)

		if err == nil {
			result.Delivered = true
			result.Error = ""
			logCtx.Info("Alert email delivered")
			return result
		}

		result.Error = err.Error()
		logCtx.Warnf("Delivery attempt failed: %v", err)

		if ctx.Err() != nil {
			return result
		}
		if attempt < s.maxRetries {
			select {
			case <-time.After(time.Duration(attempt) * s.baseDelay):
			case <-ctx.Done():
				return result
			}
		}
	}

	log.WithField("event_id", eventID).WithField("recipient", recipient).
		Errorf("Delivery failed after %d attempts", result.Attempts)
	return result
}

// DeliverAll delivers one message to every recipient. Recipients are
// processed independently and concurrently; one recipient failing never
// prevents delivery to the others, and a mixed outcome is a valid terminal
// state.
func (s *Sender) DeliverAll(ctx context.Context, recipients []models.User, event models.Event, msg models.Message) []models.DeliveryResult {
	results := make([]models.DeliveryResult, len(recipients))

	var wg sync.WaitGroup
	for i, user := range recipients {
		wg.Add(1)
		go func(i int, address string) {
			defer wg.Done()
			results[i] = s.Deliver(ctx, address, event.ID, msg)
		}(i, user.Email)
	}
	wg.Wait()

	return results
}
