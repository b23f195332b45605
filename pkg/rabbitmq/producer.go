/**
 * @description
 * This package provides a simple producer for publishing custody events to
 * RabbitMQ. Downstream consumers (audit, notification) subscribe to the
 * custody_events topic exchange; publication is best effort and never gates
 * the approval workflow itself.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const custodyExchange = "custody_events"

// TransferEvent is published whenever a transfer reaches a terminal state.
type TransferEvent struct {
	OrderNumber string    `json:"order_number"`
	Progress    int       `json:"progress"`
	Currency    string    `json:"currency"`
	Amount      string    `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// RegistrationEvent is published when a registration is decided.
type RegistrationEvent struct {
	RegID     string    `json:"reg_id"`
	ApplyerID string    `json:"applyer_id"`
	CaptainID string    `json:"captain_id"`
	Consent   int       `json:"consent"`
	Timestamp time.Time `json:"timestamp"`
}

// DepositEvent is published when an on-chain deposit is credited.
type DepositEvent struct {
	OrderNumber string    `json:"order_number"`
	Currency    string    `json:"currency"`
	Amount      string    `json:"amount"`
	ChainTxID   string    `json:"tx_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// WithdrawalEvent is published when a withdrawal settles on chain.
type WithdrawalEvent struct {
	OrderNumber string    `json:"order_number"`
	Currency    string    `json:"currency"`
	Amount      string    `json:"amount"`
	ChainTxID   string    `json:"tx_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishTransferEvent(ctx context.Context, event TransferEvent) error
	PublishRegistrationEvent(ctx context.Context, event RegistrationEvent) error
	PublishDepositEvent(ctx context.Context, event DepositEvent) error
	PublishWithdrawalEvent(ctx context.Context, event WithdrawalEvent) error
	Close()
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) PublishTransferEvent(ctx context.Context, event TransferEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"transfer event publish skipped\" order_number=%s", event.OrderNumber)
	return nil
}

func (p *EventProducerFallback) PublishRegistrationEvent(ctx context.Context, event RegistrationEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"registration event publish skipped\" reg_id=%s", event.RegID)
	return nil
}

func (p *EventProducerFallback) PublishDepositEvent(ctx context.Context, event DepositEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"deposit event publish skipped\" order_number=%s", event.OrderNumber)
	return nil
}

func (p *EventProducerFallback) PublishWithdrawalEvent(ctx context.Context, event WithdrawalEvent) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"withdrawal event publish skipped\" order_number=%s", event.OrderNumber)
	return nil
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

// Publish sends a message to a specific exchange with a routing key.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	// Ensure the exchange exists (durable topic)
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"exchange declare failed; reopening channel\" exchange=%s err=%v", exchange, err)
		// Attempt simple channel reopen once
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				if err2 := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err2 != nil {
					return err2
				}
			} else {
				return chErr
			}
		} else {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        jsonBody,
		},
	)
	if err != nil {
		log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)
		// One-shot retry: reopen channel and try again
		if p.conn != nil {
			if ch, chErr := p.conn.Channel(); chErr == nil {
				p.channel = ch
				// re-declare exchange and retry
				if exErr := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); exErr == nil {
					err = p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp091.Publishing{
						ContentType: "application/json",
						Timestamp:   time.Now(),
						Body:        jsonBody,
					})
					if err == nil {
						return nil
					}
				}
			}
		}
		return err
	}
	return nil
}

// PublishTransferEvent publishes a terminal transfer state change.
func (p *EventProducer) PublishTransferEvent(ctx context.Context, event TransferEvent) error {
	key := "transfer.rejected"
	if event.Progress == 3 {
		key = "transfer.approved"
	}
	return p.Publish(ctx, custodyExchange, key, event)
}

// PublishRegistrationEvent publishes a registration decision.
func (p *EventProducer) PublishRegistrationEvent(ctx context.Context, event RegistrationEvent) error {
	return p.Publish(ctx, custodyExchange, "registration.decided", event)
}

// PublishDepositEvent publishes a credited deposit.
func (p *EventProducer) PublishDepositEvent(ctx context.Context, event DepositEvent) error {
	return p.Publish(ctx, custodyExchange, "deposit.credited", event)
}

// PublishWithdrawalEvent publishes a settled withdrawal.
func (p *EventProducer) PublishWithdrawalEvent(ctx context.Context, event WithdrawalEvent) error {
	return p.Publish(ctx, custodyExchange, "withdraw.settled", event)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
