package devicefeed

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smukkama/signaltrail/internal/model"
	"github.com/smukkama/signaltrail/internal/protocol"
	"github.com/smukkama/signaltrail/pkg/config"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakeToken struct {
	mqtt.Token
	completed bool
	err       error
}

func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.completed }
func (t *fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	mqtt.Client
	token  *fakeToken
	topics []string
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.topics = append(c.topics, topic)
	return c.token
}

type fakeIngester struct {
	batches []*protocol.BatchInput
}

func (f *fakeIngester) Ingest(ctx context.Context, batch *protocol.BatchInput) (*model.IngestResult, error) {
	f.batches = append(f.batches, batch)
	return &model.IngestResult{Accepted: len(batch.Readings)}, nil
}

func TestNew_DisabledWithoutBroker(t *testing.T) {
	if f := New(&config.MQTTConfig{}, &fakeIngester{}); f != nil {
		t.Error("expected nil feed when no broker is configured")
	}
}

func TestHandleMessage_FillsDeviceFromTopic(t *testing.T) {
	ing := &fakeIngester{}
	f := &Feed{config: &config.MQTTConfig{Topic: "signaltrail/readings/+"}, ingester: ing}

	f.handleMessage(nil, &fakeMessage{
		topic: "signaltrail/readings/phone-42",
		payload: []byte(`{"readings":[
			{"latitude":1,"longitude":2,"signal_dbm":-70,"network_type":"5G"},
			{"latitude":1,"longitude":2,"signal_dbm":-71,"network_type":"5G","device_id":"explicit"}
		]}`),
	})

	if len(ing.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(ing.batches))
	}
	readings := ing.batches[0].Readings
	if readings[0].DeviceID != "phone-42" {
		t.Errorf("device id from topic = %q", readings[0].DeviceID)
	}
	if readings[1].DeviceID != "explicit" {
		t.Errorf("explicit device id overwritten: %q", readings[1].DeviceID)
	}
}

func TestHandleMessage_DropsInvalidJSON(t *testing.T) {
	ing := &fakeIngester{}
	f := &Feed{config: &config.MQTTConfig{}, ingester: ing}

	f.handleMessage(nil, &fakeMessage{topic: "signaltrail/readings/x", payload: []byte("{")})
	if len(ing.batches) != 0 {
		t.Error("invalid payload must not be ingested")
	}
}

func TestDeviceFromTopic(t *testing.T) {
	tests := map[string]string{
		"signaltrail/readings/abc": "abc",
		"signaltrail/readings/":    "",
		"readings":                 "",
	}
	for topic, want := range tests {
		if got := deviceFromTopic(topic); got != want {
			t.Errorf("deviceFromTopic(%q) = %q, want %q", topic, got, want)
		}
	}
}

func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	fn()
	return buf.String()
}

func TestOnConnect_ReportsSubscriptionState(t *testing.T) {
	tests := []struct {
		name  string
		token *fakeToken
		want  string
	}{
		{"acknowledged", &fakeToken{completed: true}, "Subscribed to devices/+"},
		{"timed out", &fakeToken{completed: false}, "Subscription to devices/+ pending"},
		{"rejected", &fakeToken{completed: true, err: errors.New("not authorized")}, "Failed to subscribe to devices/+: not authorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{token: tt.token}
			f := &Feed{config: &config.MQTTConfig{Topic: "devices/+", QoS: 1}, timeout: time.Millisecond}

			out := captureLog(t, func() { f.onConnect(client) })

			if len(client.topics) != 1 || client.topics[0] != "devices/+" {
				t.Fatalf("subscribed topics = %v", client.topics)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("log = %q, want it to contain %q", out, tt.want)
			}
			if tt.want != "Subscribed to devices/+" && strings.Contains(out, "Subscribed to") {
				t.Errorf("log reports a subscription that was not acknowledged: %q", out)
			}
		})
	}
}
