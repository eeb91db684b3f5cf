package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrDeliveryFailure wraps provider-side send errors. Callers record it
	// on the owning job or confirmation; it is never silently swallowed.
	ErrDeliveryFailure = errors.New("notification delivery failed")

	ErrUnknownChannel  = errors.New("unknown notification channel")
	ErrUnknownTemplate = errors.New("unknown notification template")
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is one outbound notification.
type Message struct {
	Channel       Channel
	Recipient     string
	RecipientName string
	Template      string
	Params        map[string]string
}

// DeliveryResult reports the outcome of a send.
type DeliveryResult struct {
	Success           bool
	ProviderMessageID string
	Error             string
}

// Notifier is the delivery capability the core depends on. Implementations
// route by channel to a concrete provider.
type Notifier interface {
	Send(ctx context.Context, msg Message) (DeliveryResult, error)
}

// EmailSender sends a rendered email, returning the provider message ID.
type EmailSender interface {
	SendEmail(ctx context.Context, to, toName, subject, body string) (string, error)
}

// SMSSender sends a rendered SMS, returning the provider message ID.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// Service renders templates and routes messages to channel adapters.
type Service struct {
	email  EmailSender
	sms    SMSSender
	logger *zap.Logger
}

func NewService(email EmailSender, sms SMSSender, logger *zap.Logger) *Service {
	return &Service{email: email, sms: sms, logger: logger}
}

func (s *Service) Send(ctx context.Context, msg Message) (DeliveryResult, error) {
	subject, body, err := Render(msg.Template, msg.Channel, msg.Params)
	if err != nil {
		return DeliveryResult{Error: err.Error()}, err
	}

	var providerID string
	switch msg.Channel {
	case ChannelEmail:
		if s.email == nil {
			err = fmt.Errorf("%w: email sender not configured", ErrDeliveryFailure)
			break
		}
		providerID, err = s.email.SendEmail(ctx, msg.Recipient, msg.RecipientName, subject, body)
	case ChannelSMS:
		if s.sms == nil {
			err = fmt.Errorf("%w: sms sender not configured", ErrDeliveryFailure)
			break
		}
		providerID, err = s.sms.SendSMS(ctx, msg.Recipient, body)
	default:
		return DeliveryResult{Error: string(msg.Channel)}, ErrUnknownChannel
	}

	if err != nil {
		s.logger.Error("notification delivery failed",
			zap.String("channel", string(msg.Channel)),
			zap.String("template", msg.Template),
			zap.Error(err))
		if !errors.Is(err, ErrDeliveryFailure) {
			err = fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
		}
		return DeliveryResult{Error: err.Error()}, err
	}

	s.logger.Debug("notification sent",
		zap.String("channel", string(msg.Channel)),
		zap.String("template", msg.Template),
		zap.String("provider_message_id", providerID))

	return DeliveryResult{Success: true, ProviderMessageID: providerID}, nil
}
