package bus

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pioreactor/cluster-core/pkg/log"
)

// PublishConfirmTimeout bounds how long a synchronous Publish* call waits
// for the broker to acknowledge delivery before the caller must fall back
// to a direct HTTP command.
const PublishConfirmTimeout = 2 * time.Second

// LogHandler receives a log line observed on LogSubscriptionFilter.
type LogHandler func(unit, experiment, source, level string, payload []byte)

// Bus is the leader-side command/log-ingest connection to the MQTT
// broker. Workers use the same underlying client type but only ever
// subscribe (see Subscriber in subscriber.go).
type Bus struct {
	client mqtt.Client

	mu          sync.RWMutex
	logHandlers []LogHandler
}

// Config configures the broker connection.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

// Connect dials the MQTT broker and returns a Bus ready to publish
// commands and ingest logs. It blocks until the initial connection
// succeeds or times out.
func Connect(cfg Config) (*Bus, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b := &Bus{}
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to broker %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", cfg.BrokerURL, err)
	}
	b.client = client
	return b, nil
}

// Close disconnects from the broker, waiting up to 250ms for in-flight
// publishes to drain.
func (b *Bus) Close() {
	b.client.Disconnect(250)
}

// publishConfirmed publishes payload to topic at qos and waits up to
// PublishConfirmTimeout for the broker's acknowledgement. A timeout is
// reported as ErrPublishTimeout, distinct from a publish error;
// pkg/orchestrator falls back to a direct HTTP call on either.
func (b *Bus) publishConfirmed(topic string, qos QoS, payload []byte) error {
	token := b.client.Publish(topic, byte(qos), false, payload)
	if !token.WaitTimeout(PublishConfirmTimeout) {
		return ErrPublishTimeout
	}
	return token.Error()
}

// ErrPublishTimeout is returned when a publish is not acknowledged by the
// broker within PublishConfirmTimeout. pkg/orchestrator falls back to a
// direct UnitClient call on this error, as on any other publish error.
var ErrPublishTimeout = fmt.Errorf("bus: publish not confirmed within %s", PublishConfirmTimeout)

// PublishSetting commands a running job's setting to a new value.
func (b *Bus) PublishSetting(unit, experiment, job, setting string, value []byte) error {
	return b.publishConfirmed(SettingTopic(unit, experiment, job, setting), QoSAtLeastOnce, value)
}

// PublishState commands a job's lifecycle transition.
func (b *Bus) PublishState(unit, experiment, job, state string) error {
	return b.publishConfirmed(StateTopic(unit, experiment, job), QoSAtLeastOnce, []byte(state))
}

// PublishRawTopic publishes to an arbitrary topic at command QoS, used
// by plugin-manifest proxy-to-bus routes.
func (b *Bus) PublishRawTopic(topic string, payload []byte) error {
	return b.publishConfirmed(topic, QoSAtLeastOnce, payload)
}

// Identify fires the identify-this-unit LED blink. Fire-and-forget: no
// publish-confirm wait, no task, no result.
func (b *Bus) Identify(unit, experiment string) {
	b.client.Publish(IdentifyTopic(unit, experiment), byte(QoSAtMostOnce), false, []byte("1"))
}

// SubscribeLogs registers handler to be invoked for every log line
// observed across all units/experiments. Used by the log aggregator
// (pkg/orchestrator) to batch-persist Bus-published logs into the store.
func (b *Bus) SubscribeLogs(handler LogHandler) error {
	b.mu.Lock()
	b.logHandlers = append(b.logHandlers, handler)
	b.mu.Unlock()

	token := b.client.Subscribe(LogSubscriptionFilter, byte(QoSAtMostOnce), func(_ mqtt.Client, msg mqtt.Message) {
		unit, experiment, source, level, ok := parseLogTopic(msg.Topic())
		if !ok {
			busLog := log.WithComponent("bus")
			busLog.Warn().Str("topic", msg.Topic()).Msg("log message on unparsable topic")
			return
		}
		b.mu.RLock()
		handlers := append([]LogHandler(nil), b.logHandlers...)
		b.mu.RUnlock()
		for _, h := range handlers {
			h(unit, experiment, source, level, msg.Payload())
		}
	})
	token.Wait()
	return token.Error()
}

// parseLogTopic extracts (unit, experiment, source, level) from a
// concrete pioreactor/<unit>/<experiment>/logs/<source>/<level> topic.
func parseLogTopic(topic string) (unit, experiment, source, level string, ok bool) {
	var parts [6]string
	n := 0
	start := 0
	for i := 0; i <= len(topic); i++ {
		if i == len(topic) || topic[i] == '/' {
			if n < 6 {
				parts[n] = topic[start:i]
			}
			n++
			start = i + 1
		}
	}
	if n != 6 || parts[0] != "pioreactor" || parts[3] != "logs" {
		return "", "", "", "", false
	}
	return parts[1], parts[2], parts[4], parts[5], true
}
