package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/frostdev-ops/pma-rules/internal/core/automation"
	apperrors "github.com/frostdev-ops/pma-rules/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	stateSource       = "mqtt"
)

var (
	ErrNotConnected   = errors.New("mqtt client is not connected")
	ErrPublishTimeout = errors.New("mqtt publish timed out")
)

// Config holds MQTT adapter configuration
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	PublishTimeout time.Duration
	SubscribeState bool
	// BreakerFailures consecutive publish failures stop dispatch for BreakerReset
	BreakerFailures int
	BreakerReset    time.Duration
}

// StateUpdater receives device state reported over MQTT
type StateUpdater interface {
	UpdateState(ctx context.Context, entityID, state, source string) (bool, error)
}

// Adapter publishes device commands to an MQTT broker and, optionally,
// feeds state reports back into the entity service
type Adapter struct {
	client  pahomqtt.Client
	config  Config
	states  StateUpdater
	logger  *logrus.Logger
	breaker *apperrors.CircuitBreaker

	mu         sync.RWMutex
	connected  bool
	published  int64
	failed     int64
	stateCount int64
}

// NewAdapter creates an adapter. Connect must be called before Dispatch.
func NewAdapter(config Config, states StateUpdater, logger *logrus.Logger) *Adapter {
	if config.ClientID == "" {
		config.ClientID = "pma-rules"
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = "pma"
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}
	if config.QoS > 2 {
		config.QoS = 1
	}
	return &Adapter{
		config:  config,
		states:  states,
		logger:  logger,
		breaker: apperrors.NewCircuitBreaker(apperrors.CircuitBreakerConfig{
			Name:         "mqtt-dispatch",
			MaxFailures:  config.BreakerFailures,
			ResetTimeout: config.BreakerReset,
			Logger:       logger,
		}),
	}
}

func (a *Adapter) clientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(a.config.Broker).
		SetClientID(a.config.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(func(_ pahomqtt.Client) { a.handleConnect() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { a.handleConnectionLost(err) })

	if a.config.Username != "" {
		opts.SetUsername(a.config.Username)
		opts.SetPassword(a.config.Password)
	}
	return opts
}

// Connect dials the broker and waits for the first connection
func (a *Adapter) Connect(ctx context.Context) error {
	client := pahomqtt.NewClient(a.clientOptions())
	a.mu.Lock()
	a.client = client
	a.mu.Unlock()

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		return fmt.Errorf("mqtt connect to %s: timeout after %v", a.config.Broker, connectTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", a.config.Broker, err)
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) handleConnect() {
	a.mu.Lock()
	a.connected = true
	client := a.client
	a.mu.Unlock()

	a.logger.WithField("broker", a.config.Broker).Info("MQTT connected")

	// Subscriptions are not kept across clean sessions
	if a.config.SubscribeState && a.states != nil && client != nil {
		topic := StateSubscription(a.config.TopicPrefix)
		token := client.Subscribe(topic, a.config.QoS, a.onMessage)
		if !token.WaitTimeout(a.config.PublishTimeout) {
			a.logger.WithField("topic", topic).Warn("MQTT subscribe timed out")
			return
		}
		if err := token.Error(); err != nil {
			a.logger.WithError(err).WithField("topic", topic).Error("MQTT subscribe failed")
			return
		}
		a.logger.WithField("topic", topic).Info("Subscribed to device state")
	}
}

func (a *Adapter) handleConnectionLost(err error) {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	a.logger.WithError(err).Warn("MQTT connection lost")
}

func (a *Adapter) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithFields(logrus.Fields{"topic": msg.Topic(), "panic": r}).Error("MQTT handler panic recovered")
		}
	}()
	if err := a.HandleStateMessage(context.Background(), msg.Topic(), msg.Payload()); err != nil {
		a.logger.WithError(err).WithField("topic", msg.Topic()).Warn("Ignoring state message")
	}
}

// HandleStateMessage applies one state report
func (a *Adapter) HandleStateMessage(ctx context.Context, topic string, payload []byte) error {
	entityID, ok := EntityFromStateTopic(a.config.TopicPrefix, topic)
	if !ok {
		return fmt.Errorf("unexpected state topic %q", topic)
	}
	state, err := ParseState(payload)
	if err != nil {
		return err
	}
	if a.states == nil {
		return nil
	}
	if _, err := a.states.UpdateState(ctx, entityID, state, stateSource); err != nil {
		return fmt.Errorf("update state of %s: %w", entityID, err)
	}

	a.mu.Lock()
	a.stateCount++
	a.mu.Unlock()
	return nil
}

// Dispatch publishes cmd and waits for the broker acknowledgement up to the
// publish timeout or ctx, whichever ends first. After repeated failures it
// returns apperrors.ErrCircuitOpen without touching the broker.
func (a *Adapter) Dispatch(ctx context.Context, cmd automation.Command) error {
	err := a.breaker.Execute(ctx, func() error { return a.publish(ctx, cmd) })
	if errors.Is(err, apperrors.ErrCircuitOpen) {
		a.recordPublish(false)
	}
	return err
}

func (a *Adapter) publish(ctx context.Context, cmd automation.Command) error {
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil || !a.IsConnected() {
		a.recordPublish(false)
		return ErrNotConnected
	}

	payload, err := EncodeCommand(cmd, time.Now())
	if err != nil {
		a.recordPublish(false)
		return fmt.Errorf("encode command: %w", err)
	}

	topic := CommandTopic(a.config.TopicPrefix, cmd.EntityID)
	token := client.Publish(topic, a.config.QoS, false, payload)

	timer := time.NewTimer(a.config.PublishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-timer.C:
		a.recordPublish(false)
		return ErrPublishTimeout
	case <-ctx.Done():
		a.recordPublish(false)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		a.recordPublish(false)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	a.recordPublish(true)
	a.logger.WithFields(logrus.Fields{
		"topic":      topic,
		"command_id": cmd.CommandID,
		"action":     cmd.Action,
	}).Debug("Published device command")
	return nil
}

func (a *Adapter) recordPublish(ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ok {
		a.published++
	} else {
		a.failed++
	}
}

// IsConnected reports whether the broker connection is up
func (a *Adapter) IsConnected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected && a.client != nil && a.client.IsConnectionOpen()
}

// Status returns connection and traffic counters
func (a *Adapter) Status() map[string]interface{} {
	connected := a.IsConnected()
	a.mu.RLock()
	defer a.mu.RUnlock()
	return map[string]interface{}{
		"connected":        connected,
		"broker":           a.config.Broker,
		"published":        a.published,
		"publish_failures": a.failed,
		"state_reports":    a.stateCount,
		"breaker":          a.breaker.State().String(),
	}
}

// Close disconnects from the broker
func (a *Adapter) Close() {
	a.mu.Lock()
	client := a.client
	a.connected = false
	a.mu.Unlock()
	if client != nil {
		client.Disconnect(disconnectQuiesce)
		a.logger.Info("MQTT adapter stopped")
	}
}

var _ automation.DeviceController = (*Adapter)(nil)
