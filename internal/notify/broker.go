package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
)

// RedisNotifier PUBLISHes each notification as JSON on one channel.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "dialer.notifications"
	}
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("notify: redis publish: %w", err)
	}
	return nil
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// MQTTNotifier publishes to <prefix>/notifications/<code>, with dots in the
// code turned into topic levels.
type MQTTNotifier struct {
	pub    Publisher
	prefix string
}

func NewMQTTNotifier(pub Publisher, prefix string) *MQTTNotifier {
	if prefix == "" {
		prefix = "dialer"
	}
	return &MQTTNotifier{pub: pub, prefix: strings.TrimSuffix(prefix, "/")}
}

func (m *MQTTNotifier) Topic(code Code) string {
	return m.prefix + "/notifications/" + strings.ReplaceAll(string(code), ".", "/")
}

func (m *MQTTNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	return m.pub.Publish(ctx, m.Topic(n.Code), payload)
}

func (m *MQTTNotifier) Close() error { return m.pub.Close() }

// MQTTOptions configures the paho client.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// PahoPublisher wraps a connected paho client.
type PahoPublisher struct {
	client mqtt.Client
	qos    byte
}

func NewPahoPublisher(opts MQTTOptions) (*PahoPublisher, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}
	return &PahoPublisher{client: client, qos: opts.QoS}, nil
}

func (p *PahoPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PahoPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
