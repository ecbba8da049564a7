package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"tai-ledger-api/internal/models"
)

// Event types carried in the "event" field of every message.
const (
	EventAccountCreated = "account.created"
	EventTransaction    = "transaction"
	EventWithdrawal     = "withdrawal"
	EventStaking        = "staking"
)

// Message is the envelope published for every ledger event.
type Message struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	AccountID int64       `json:"account_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// EventPublisher publishes committed ledger changes to a topic exchange.
type EventPublisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	logger   *logrus.Logger
	now      func() time.Time
	newID    func() string
}

// NewEventPublisher dials RabbitMQ and declares the events exchange.
func NewEventPublisher(rabbitURL, exchange string, logger *logrus.Logger) (*EventPublisher, error) {
	conn, err := amqp.Dial(rabbitURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Infof("Event publisher initialized (exchange: %s)", exchange)

	p := newEventPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newEventPublisher(ch channel, exchange string, logger *logrus.Logger) *EventPublisher {
	return &EventPublisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
		now:      time.Now,
		newID:    newMessageID,
	}
}

func (p *EventPublisher) PublishAccountCreated(ctx context.Context, account *models.Account) error {
	return p.publish(ctx, AccountCreatedKey(), Message{
		Event:     EventAccountCreated,
		AccountID: account.ID,
		Payload:   accountPayload(account),
	})
}

func (p *EventPublisher) PublishTransaction(ctx context.Context, tx *models.Transaction) error {
	return p.publish(ctx, TransactionKey(tx), Message{
		Event:     EventTransaction,
		AccountID: tx.UserID,
		Payload:   tx,
	})
}

func (p *EventPublisher) PublishWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	return p.publish(ctx, WithdrawalKey(w), Message{
		Event:     EventWithdrawal,
		AccountID: w.UserID,
		Payload:   w,
	})
}

func (p *EventPublisher) PublishStaking(ctx context.Context, s *models.StakingPosition) error {
	return p.publish(ctx, StakingKey(s), Message{
		Event:     EventStaking,
		AccountID: s.UserID,
		Payload:   s,
	})
}

func (p *EventPublisher) publish(ctx context.Context, routingKey string, msg Message) error {
	msg.ID = p.newID()
	msg.Timestamp = p.now().UTC()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			MessageId:    msg.ID,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    msg.Timestamp,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	p.logger.WithFields(logrus.Fields{
		"routing_key": routingKey,
		"account_id":  msg.AccountID,
		"message_id":  msg.ID,
	}).Debug("Published ledger event")
	return nil
}

// Close closes the publisher channel and connection.
func (p *EventPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.logger.Warnf("Error closing channel: %v", err)
	}
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Close(); err != nil {
		p.logger.Warnf("Error closing connection: %v", err)
		return err
	}
	p.logger.Info("Event publisher closed")
	return nil
}

func AccountCreatedKey() string {
	return EventAccountCreated
}

func TransactionKey(tx *models.Transaction) string {
	return EventTransaction + "." + string(tx.Type)
}

func WithdrawalKey(w *models.Withdrawal) string {
	return EventWithdrawal + "." + string(w.Status)
}

func StakingKey(s *models.StakingPosition) string {
	return EventStaking + "." + string(s.Status)
}

// accountPayload keeps credentials and balances out of the event.
func accountPayload(a *models.Account) map[string]interface{} {
	payload := map[string]interface{}{
		"id":            a.ID,
		"name":          a.Name,
		"email":         a.Email,
		"role":          a.Role,
		"tai_id":        a.TaiID,
		"referral_code": a.ReferralCode,
		"created_at":    a.CreatedAt,
	}
	if a.ReferredBy != nil {
		payload["referred_by"] = *a.ReferredBy
	}
	return payload
}

func newMessageID() string {
	return uuid.NewString()
}
