package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stockrelay/internal/domain"
	"github.com/pscheid92/stockrelay/internal/metrics"
	"github.com/pscheid92/stockrelay/internal/platform/correlation"
	"github.com/sony/gobreaker"
)

const (
	DefaultChannel = "stockrelay:notifications"

	publishTimeout      = 2 * time.Second
	resubscribeDelay    = time.Second
	breakerName         = "redis-relay"
	breakerOpenDuration = 30 * time.Second
	breakerTripAfter    = 5
)

type relayMessage struct {
	Origin        string          `json:"origin"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Notification  domain.Envelope `json:"notification"`
}

type RelayOptions struct {
	Channel string
	// Origin identifies this instance in relayed messages and logs.
	Origin string
	Clock  clockwork.Clock
}

// Relay implements domain.Notifier across instances: Dispatch publishes the
// notification and every instance, this one included, delivers it to its own
// sockets from Run. Dispatch delivers locally instead when the publish fails,
// when it reached no subscriber, or while this instance is not subscribed.
type Relay struct {
	client     *Client
	local      domain.Notifier
	breaker    *gobreaker.CircuitBreaker
	channel    string
	origin     string
	clock      clockwork.Clock
	subscribed atomic.Bool
}

var _ domain.Notifier = (*Relay)(nil)

func NewRelay(client *Client, local domain.Notifier, opts RelayOptions) *Relay {
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	return &Relay{
		client:  client,
		local:   local,
		breaker: newBreaker(),
		channel: opts.Channel,
		origin:  opts.Origin,
		clock:   opts.Clock,
	}
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"component", name,
				"from", from.String(),
				"to", to.String())
			metrics.CircuitBreakerStateChanges.WithLabelValues(name, to.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerState reports the publish breaker state, for health checks.
func (r *Relay) BreakerState() gobreaker.State {
	return r.breaker.State()
}

func (r *Relay) Dispatch(ctx context.Context, n *domain.Notification) (domain.DeliveryReport, error) {
	msg := relayMessage{Origin: r.origin, Notification: n.Envelope()}
	if id, ok := correlation.ID(ctx); ok {
		msg.CorrelationID = id
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return domain.DeliveryReport{}, fmt.Errorf("encode relay message: %w", err)
	}

	receivers, err := r.breaker.Execute(func() (any, error) {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		return r.client.rdb.Publish(pctx, r.channel, payload).Result()
	})
	if err != nil {
		metrics.RelayPublishTotal.WithLabelValues("fallback").Inc()
		slog.WarnContext(ctx, "Relay publish failed, delivering locally",
			"notification_id", n.ID(),
			"breaker_state", r.breaker.State().String(),
			"error", err)
		return r.local.Dispatch(ctx, n)
	}

	relayed := receivers.(int64)
	if relayed == 0 || !r.subscribed.Load() {
		// Our own subscriber will not see this message. The registry ignores
		// IDs it already holds, so a late echo is not delivered twice.
		metrics.RelayPublishTotal.WithLabelValues("unheard").Inc()
		slog.WarnContext(ctx, "Relay publish not heard locally, delivering locally",
			"notification_id", n.ID(),
			"receivers", relayed)
		report, err := r.local.Dispatch(ctx, n)
		report.Relayed = relayed
		return report, err
	}

	metrics.RelayPublishTotal.WithLabelValues("published").Inc()
	return domain.DeliveryReport{Relayed: relayed}, nil
}

// Run subscribes to the relay channel and delivers every received
// notification locally. It resubscribes after failures and returns when ctx
// is cancelled.
func (r *Relay) Run(ctx context.Context) {
	for {
		err := r.subscribe(ctx)
		r.subscribed.Store(false)
		metrics.RelaySubscriptionActive.Set(0)
		if ctx.Err() != nil {
			return
		}

		slog.Warn("Relay subscription lost, resubscribing", "channel", r.channel, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(resubscribeDelay):
		}
	}
}

func (r *Relay) subscribe(ctx context.Context) error {
	sub := r.client.rdb.Subscribe(ctx, r.channel)
	defer func() {
		_ = sub.Close()
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.subscribed.Store(true)
	metrics.RelaySubscriptionActive.Set(1)
	slog.Info("Relay subscribed", "channel", r.channel, "origin", r.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			r.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload []byte) {
	var msg relayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		metrics.RelayMessagesReceived.WithLabelValues("malformed").Inc()
		slog.Warn("Dropping malformed relay message", "error", err)
		return
	}

	n, err := domain.NotificationFromEnvelope(msg.Notification)
	if err != nil {
		metrics.RelayMessagesReceived.WithLabelValues("malformed").Inc()
		slog.Warn("Dropping invalid relayed notification", "notification_id", msg.Notification.ID, "error", err)
		return
	}

	dctx := ctx
	if msg.CorrelationID != "" {
		dctx = correlation.WithID(ctx, msg.CorrelationID)
	}

	report, err := r.local.Dispatch(dctx, n)
	if err != nil {
		metrics.RelayMessagesReceived.WithLabelValues("error").Inc()
		slog.ErrorContext(dctx, "Local delivery of relayed notification failed", "notification_id", n.ID(), "error", err)
		return
	}
	metrics.RelayMessagesReceived.WithLabelValues("dispatched").Inc()
	slog.DebugContext(dctx, "Relayed notification delivered",
		"notification_id", n.ID(),
		"origin", msg.Origin,
		"delivered", report.Delivered)
}
