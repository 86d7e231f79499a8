package bus

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CommandHandler reacts to a command observed on a worker's own command
// topics: setting is "$state" for a lifecycle transition, otherwise a
// job setting name.
type CommandHandler func(experiment, job, setting string, payload []byte)

// Subscriber is the worker-side connection: it never publishes commands,
// it only subscribes to its own unit's command topic filter.
type Subscriber struct {
	client mqtt.Client
	unit   string
}

// ConnectSubscriber dials the broker as the given unit and returns a
// Subscriber ready to register command handlers.
func ConnectSubscriber(cfg Config, unit string) (*Subscriber, error) {
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

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to broker %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", cfg.BrokerURL, err)
	}
	return &Subscriber{client: client, unit: unit}, nil
}

// Close disconnects from the broker.
func (s *Subscriber) Close() {
	s.client.Disconnect(250)
}

// OnCommand subscribes to every setting/$state command topic for this
// unit and invokes handler for each.
func (s *Subscriber) OnCommand(handler CommandHandler) error {
	token := s.client.Subscribe(CommandSubscriptionFilter(s.unit), byte(QoSAtLeastOnce), func(_ mqtt.Client, msg mqtt.Message) {
		experiment, job, setting, ok := parseCommandTopic(s.unit, msg.Topic())
		if !ok {
			return
		}
		handler(experiment, job, setting, msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// parseCommandTopic extracts (experiment, job, setting) from
// pioreactor/<unit>/<experiment>/<job>/<setting>/set. setting is
// "$state" for a lifecycle command.
func parseCommandTopic(unit, topic string) (experiment, job, setting string, ok bool) {
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
	if n != 6 || parts[0] != "pioreactor" || parts[1] != unit || parts[5] != "set" {
		return "", "", "", false
	}
	return parts[2], parts[3], parts[4], true
}
