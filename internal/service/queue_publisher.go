// Package queue_publisher publishes booking events to RabbitMQ.  Publishing
// is best effort: failures are logged and returned so callers can ignore
// them without interrupting the booking flow.
package queue_publisher

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    "github.com/charmbracelet/log"
    amqp "github.com/rabbitmq/amqp091-go"

    q "github.com/iliyamo/slot-reservation/internal/queue"
)

// Publisher sends booking events to the broker at URL over one lazily
// opened channel.  A channel or connection the broker closed is reopened on
// the next publish.
type Publisher struct {
    URL string

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

// New returns a Publisher for url, or for the environment's broker when url
// is empty.
func New(url string) *Publisher {
    if url == "" {
        url = q.URLFromEnv()
    }
    return &Publisher{URL: url}
}

// channel returns an open channel with the booking queue declared.  Callers
// hold p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    if p.conn == nil || p.conn.IsClosed() {
        conn, err := amqp.Dial(p.URL)
        if err != nil {
            return nil, err
        }
        p.conn = conn
    }
    ch, err := p.conn.Channel()
    if err != nil {
        return nil, err
    }
    // Durable, so queued events survive a broker restart.
    if _, err := ch.QueueDeclare(q.BookingQueueName, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        return nil, err
    }
    p.ch = ch
    return ch, nil
}

// PublishBookingConfirmed publishes ev as a persistent JSON message on the
// booking.confirmed queue.
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, ev q.BookingConfirmedEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return err
    }

    p.mu.Lock()
    defer p.mu.Unlock()
    ch, err := p.channel()
    if err != nil {
        log.Warn("rabbitmq: channel unavailable", "booking_id", ev.BookingID, "error", err)
        return err
    }
    err = ch.PublishWithContext(ctx, "", q.BookingQueueName, false, false, amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        MessageId:    ev.IdempotencyKey(),
        Body:         body,
    })
    if err != nil {
        log.Warn("rabbitmq: publish failed", "booking_id", ev.BookingID, "error", err)
        _ = ch.Close()
        p.ch = nil
        return err
    }
    log.Debug("rabbitmq: booking event published", "booking_id", ev.BookingID, "match_id", ev.MatchID)
    return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.ch != nil {
        _ = p.ch.Close()
        p.ch = nil
    }
    if p.conn != nil {
        err := p.conn.Close()
        p.conn = nil
        return err
    }
    return nil
}
