// Package devicefeed ingests reading batches published by devices over MQTT.
package devicefeed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smukkama/signaltrail/internal/model"
	"github.com/smukkama/signaltrail/internal/protocol"
	"github.com/smukkama/signaltrail/pkg/config"
)

// Ingester stores batches of readings
type Ingester interface {
	Ingest(ctx context.Context, batch *protocol.BatchInput) (*model.IngestResult, error)
}

// Feed subscribes to the device topic and ingests every payload as a batch.
// The last topic segment is used as device id for readings that omit one.
type Feed struct {
	client   mqtt.Client
	config   *config.MQTTConfig
	ingester Ingester
	timeout  time.Duration
}

// New creates a feed. It returns nil when no broker is configured.
func New(cfg *config.MQTTConfig, ingester Ingester) *Feed {
	if cfg.Broker == "" {
		log.Println("[MQTT] Device feed disabled: MQTT_BROKER not set")
		return nil
	}

	f := &Feed{
		config:   cfg,
		ingester: ingester,
		timeout:  10 * time.Second,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(f.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[MQTT] Connection lost: %v", err)
	})

	f.client = mqtt.NewClient(opts)
	return f
}

// Start connects to the broker. Subscriptions are (re)established on every connect.
func (f *Feed) Start() error {
	token := f.client.Connect()
	if !token.WaitTimeout(f.timeout) {
		log.Printf("[MQTT] Connection to %s pending, retrying in background", f.config.Broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Stop disconnects from the broker
func (f *Feed) Stop() {
	f.client.Disconnect(250)
	log.Println("[MQTT] Device feed stopped")
}

func (f *Feed) onConnect(client mqtt.Client) {
	token := client.Subscribe(f.config.Topic, byte(f.config.QoS), f.handleMessage)
	if !token.WaitTimeout(f.timeout) {
		log.Printf("[MQTT] Subscription to %s pending", f.config.Topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("[MQTT] Failed to subscribe to %s: %v", f.config.Topic, err)
		return
	}
	log.Printf("[MQTT] Subscribed to %s", f.config.Topic)
}

func (f *Feed) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	batch, err := protocol.DecodeBatch(msg.Payload())
	if err != nil {
		log.Printf("[MQTT] Dropping message on %s: %v", msg.Topic(), err)
		return
	}

	if device := deviceFromTopic(msg.Topic()); device != "" {
		for i := range batch.Readings {
			if batch.Readings[i].DeviceID == "" {
				batch.Readings[i].DeviceID = device
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	result, err := f.ingester.Ingest(ctx, batch)
	var verr *protocol.ValidationError
	switch {
	case errors.As(err, &verr):
		log.Printf("[MQTT] Rejected batch on %s: %v", msg.Topic(), verr)
	case err != nil:
		log.Printf("[MQTT] Failed to ingest batch on %s: %v", msg.Topic(), err)
	default:
		log.Printf("[MQTT] Ingested %d readings from %s", result.Accepted, msg.Topic())
	}
}

func deviceFromTopic(topic string) string {
	i := strings.LastIndex(topic, "/")
	if i < 0 || i == len(topic)-1 {
		return ""
	}
	return topic[i+1:]
}
