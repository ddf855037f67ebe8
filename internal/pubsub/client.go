// Package pubsub implements the bus client contract of spec.md §4.A: two
// independent MQTT sessions per job (a publisher with no last-will, and a
// subscriber carrying the job's LOST last-will), linear publish-retry
// backoff, and retained-message republish on reconnect. Reconnection
// itself is paho's auto-reconnect, which does not follow the linear
// schedule.
package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/biostacklabs/reactorcore/internal/model"
)

// Config describes how to reach the leader broker and identifies the
// job whose topic namespace this bus instance serves.
type Config struct {
	BrokerURL  string // e.g. "tcp://leader:1883"
	Namespace  string
	Unit       string
	Experiment string
	JobName    string

	// MaxBackoff caps the linear 5*n second wait between publish
	// retries. It does not affect paho's reconnect timing.
	MaxBackoff time.Duration
}

func (c Config) topic() model.Topic {
	return model.Topic{Namespace: c.Namespace, Unit: c.Unit, Experiment: c.Experiment, Job: c.JobName}
}

// Handler processes one received message. Errors are logged by the bus
// wrapper, not returned to the caller — a panicking or failing callback
// must never kill the subscribe loop.
type Handler func(topic string, payload []byte, retained bool)

// Bus is the publisher+subscriber client pair for one job.
type Bus struct {
	cfg    Config
	logger *slog.Logger

	pub mqtt.Client
	sub mqtt.Client

	mu            sync.Mutex
	retainedSends []retainedSend // replayed to the broker after reconnect
	subs          []subscription // replayed (re-subscribed) after reconnect
}

type retainedSend struct {
	topic   string
	payload []byte
	qos     QoS
}

type subscription struct {
	topic   string
	qos     QoS
	handler Handler
}

// Dial connects the publisher and subscriber sessions. The subscriber
// carries a retained last-will of $state=LOST; the publisher carries
// none, so that a publish issued from inside a message callback can
// never deadlock against the subscriber's receive loop (paho serializes
// callbacks and publishes on the same connection otherwise).
func Dial(cfg Config, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 60 * time.Second
	}

	b := &Bus{cfg: cfg, logger: logger}

	stateTopic := cfg.topic().State()
	clientSuffix := uuid.NewString()

	pubOpts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(fmt.Sprintf("%s-pub-%s", cfg.JobName, clientSuffix)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(b.onPubConnect)

	subOpts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(fmt.Sprintf("%s-sub-%s", cfg.JobName, clientSuffix)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(stateTopic, string(model.StateLost), byte(ExactlyOnce), true).
		SetOnConnectHandler(b.onSubConnect)

	b.pub = mqtt.NewClient(pubOpts)
	b.sub = mqtt.NewClient(subOpts)

	if token := b.pub.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("pubsub: connect publisher: %w", token.Error())
	}
	if token := b.sub.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("pubsub: connect subscriber: %w", token.Error())
	}
	return b, nil
}

func (b *Bus) onPubConnect(mqtt.Client) {
	b.mu.Lock()
	sends := append([]retainedSend(nil), b.retainedSends...)
	b.mu.Unlock()
	for _, s := range sends {
		if token := b.pub.Publish(s.topic, byte(s.qos), true, s.payload); token.Wait() && token.Error() != nil {
			b.logger.Error("pubsub: republish on reconnect failed", "topic", s.topic, "error", token.Error())
		}
	}
}

func (b *Bus) onSubConnect(mqtt.Client) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()
	for _, s := range subs {
		if err := b.resubscribe(s); err != nil {
			b.logger.Error("pubsub: resubscribe on reconnect failed", "topic", s.topic, "error", err)
		}
	}
}

// Publish sends payload with the given QoS and retain flag, retrying
// indefinitely (blocking) while the broker is unreachable, per spec.md
// §4.A's "publish retries indefinitely" failure semantics. Retained
// publishes are remembered and replayed automatically on reconnect.
func (b *Bus) Publish(ctx context.Context, attribute string, payload []byte, qos QoS, retain bool) error {
	topic := b.cfg.topic().Attr(attribute)
	return b.publishTopic(ctx, topic, payload, qos, retain)
}

func (b *Bus) publishTopic(ctx context.Context, topic string, payload []byte, qos QoS, retain bool) error {
	if retain {
		b.mu.Lock()
		b.retainedSends = append(b.retainedSends, retainedSend{topic: topic, payload: payload, qos: qos})
		b.mu.Unlock()
	}

	backoff := 5 * time.Second
	for n := 1; ; n++ {
		token := b.pub.Publish(topic, byte(qos), retain, payload)
		done := make(chan struct{})
		go func() { token.Wait(); close(done) }()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
		if token.Error() == nil {
			return nil
		}
		b.logger.Warn("pubsub: publish failed, retrying", "topic", topic, "attempt", n, "error", token.Error())
		wait := time.Duration(n) * backoff
		if wait > b.cfg.MaxBackoff {
			wait = b.cfg.MaxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// PublishState publishes the job's $state, retained, at EXACTLY_ONCE —
// the one topic every job always carries.
func (b *Bus) PublishState(ctx context.Context, state model.State) error {
	return b.Publish(ctx, "$state", []byte(state), ExactlyOnce, true)
}

// Subscribe attaches handler to attribute, replaying on reconnect. Set
// ignoreRetained to skip the first (replayed) retained delivery, for
// callers that only want live updates.
func (b *Bus) Subscribe(attribute string, qos QoS, ignoreRetained bool, handler Handler) error {
	topic := b.cfg.topic().Attr(attribute)
	return b.subscribeTopic(topic, qos, ignoreRetained, handler)
}

func (b *Bus) subscribeTopic(topic string, qos QoS, ignoreRetained bool, handler Handler) error {
	wrapped := b.wrap(handler, ignoreRetained)
	s := subscription{topic: topic, qos: qos, handler: wrapped}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return b.resubscribe(s)
}

func (b *Bus) resubscribe(s subscription) error {
	cb := func(_ mqtt.Client, msg mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("pubsub: callback panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		s.handler(msg.Topic(), msg.Payload(), msg.Retained())
	}
	token := b.sub.Subscribe(s.topic, byte(s.qos), cb)
	token.Wait()
	return token.Error()
}

// wrap filters retained messages when requested, swallowing them
// silently rather than invoking the caller's handler.
func (b *Bus) wrap(h Handler, ignoreRetained bool) Handler {
	return func(topic string, payload []byte, retained bool) {
		if ignoreRetained && retained {
			return
		}
		h(topic, payload, retained)
	}
}

// PublishRaw publishes to a literal topic outside this bus's own job
// namespace, for callers like the monitor that must set another job's
// $state (e.g. marking a dead job LOST).
func (b *Bus) PublishRaw(ctx context.Context, topic string, payload []byte, qos QoS, retain bool) error {
	return b.publishTopic(ctx, topic, payload, qos, retain)
}

// SubscribeRaw subscribes a literal topic filter (including MQTT
// wildcards such as "+" or "#"), for callers like the monitor that must
// watch every job's $state or a run-request topic outside their own
// job namespace.
func (b *Bus) SubscribeRaw(topicFilter string, qos QoS, handler Handler) error {
	return b.subscribeTopic(topicFilter, qos, false, handler)
}

// SubscribeOnce waits up to timeout for a single message (retained or
// live) on topic, then unsubscribes and returns it. Mirrors the
// teacher's job-startup pattern of seeding cached state from one
// retained read instead of holding a standing subscription (e.g.
// growth-rate's rate0/od_normalization cache seeding).
func (b *Bus) SubscribeOnce(topic string, qos QoS, timeout time.Duration) ([]byte, bool, error) {
	var (
		mu      sync.Mutex
		payload []byte
		got     bool
	)
	done := make(chan struct{})
	cb := func(_ mqtt.Client, msg mqtt.Message) {
		mu.Lock()
		defer mu.Unlock()
		if !got {
			payload = append([]byte(nil), msg.Payload()...)
			got = true
			close(done)
		}
	}

	token := b.sub.Subscribe(topic, byte(qos), cb)
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, false, err
	}
	defer b.sub.Unsubscribe(topic)

	select {
	case <-done:
	case <-time.After(timeout):
	}

	mu.Lock()
	defer mu.Unlock()
	return payload, got, nil
}

// SubscribeSet wires the two "/set" listeners spec.md §4.D requires: the
// job's own unit/experiment, and the universal-unit broadcast.
func (b *Bus) SubscribeSet(attribute string, handler Handler) error {
	own := b.cfg.topic()
	if err := b.subscribeTopic(own.Set(attribute), AtLeastOnce, true, b.wrap(handler, true)); err != nil {
		return err
	}
	broadcast := own.Broadcast()
	return b.subscribeTopic(broadcast.Set(attribute), AtLeastOnce, true, b.wrap(handler, true))
}

// Close disconnects both sessions gracefully, publishing $state before
// tearing down the connection (the subscriber's last-will only fires on
// an *unexpected* loss, not here).
func (b *Bus) Close(ctx context.Context, finalState model.State) {
	_ = b.PublishState(ctx, finalState)
	b.pub.Disconnect(250)
	b.sub.Disconnect(250)
}

// Topic exposes the job's own topic builder for callers that need to
// address attributes this package's helpers don't cover directly.
func (b *Bus) Topic() model.Topic { return b.cfg.topic() }
