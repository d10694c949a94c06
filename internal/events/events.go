// Package events publishes order and ticket lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys of lifecycle events.
const (
	TicketSubmitted      = "ticket.submitted"
	TicketApproved       = "ticket.approved"
	TicketDeclined       = "ticket.declined"
	OrderStageChanged    = "order.stage_changed"
	OrderUpdated         = "order.updated"
	OrderDeleted         = "order.deleted"
	OrderDesignUploaded  = "order.design_uploaded"
	OrderPasswordReset   = "order.password_reset"
	OrderMeshGenerated   = "order.mesh_generated"
	TicketMeshGenerated  = "ticket.mesh_generated"
	OrderPasswordCleared = "order.password_cleared"
)

// Event is the JSON body of every published message.
type Event struct {
	Type  string    `json:"type"`
	Email string    `json:"email"`
	At    time.Time `json:"at"`
	Data  any       `json:"data,omitempty"`
}

// Publisher defines a minimal interface for publishing events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, any) error { return nil }

// RabbitPublisher publishes JSON events to a RabbitMQ topic exchange.
type RabbitPublisher struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *zap.Logger
}

// NewRabbitPublisher connects to url and declares exchange.
func NewRabbitPublisher(url, exchange string, log *zap.Logger) (*RabbitPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &RabbitPublisher{conn: conn, channel: ch, exchange: exchange, log: log}, nil
}

// Publish serializes payload to JSON and sends it to the exchange.
func (p *RabbitPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if p == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close terminates the connection.
func (p *RabbitPublisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		p.log.Warn("close amqp channel", zap.Error(err))
	}
	return p.conn.Close()
}

// Emitter publishes lifecycle events without letting a broker failure reach
// the caller.
type Emitter struct {
	Publisher Publisher
	Log       *zap.Logger
	Timeout   time.Duration
}

// NewEmitter wraps pub. A nil pub discards events.
func NewEmitter(pub Publisher, log *zap.Logger) *Emitter {
	if pub == nil {
		pub = Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{Publisher: pub, Log: log, Timeout: 5 * time.Second}
}

// Emit publishes an Event of the given type for email. Failures are logged.
func (e *Emitter) Emit(ctx context.Context, kind, email string, data any) {
	if e == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.Timeout)
	defer cancel()
	ev := Event{Type: kind, Email: email, At: time.Now().UTC(), Data: data}
	if err := e.Publisher.Publish(ctx, kind, ev); err != nil {
		e.Log.Warn("failed to publish event", zap.String("type", kind), zap.String("email", email), zap.Error(err))
	}
}
