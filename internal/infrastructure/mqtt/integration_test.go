//go:build integration

package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
)

// Integration tests against a live broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{}
	cfg.Broker.ClientID = clientID
	return cfg
}

var integrationTopics = Topics{Prefix: "devicehub-it"}

func TestIntegration_ConnectInvalidBroker(t *testing.T) {
	cfg := integrationConfig("devicehub-it-refused")
	cfg.Broker.Port = 19999

	_, err := Connect(cfg, integrationTopics)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client, err := Connect(integrationConfig("devicehub-it-sub-track"), integrationTopics)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := []string{
		integrationTopics.AllDiscovery(),
		integrationTopics.AllUpdates(),
		integrationTopics.MetadataChanged(),
	}
	handler := func(string, []byte) error { return nil }

	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", client.SubscriptionCount(), len(topics))
	}

	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) {
		t.Errorf("HasSubscription(%s) = true after unsubscribe", topics[0])
	}
}

func TestIntegration_EventRoundtrip(t *testing.T) {
	pub, err := Connect(integrationConfig("devicehub-it-pub"), integrationTopics)
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pub.Close()

	sub, err := Connect(integrationConfig("devicehub-it-sub"), integrationTopics)
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	var once sync.Once
	err = sub.Subscribe(integrationTopics.AllEvents(), 1, func(topic string, _ []byte) error {
		once.Do(func() { received <- LastSegment(topic) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(integrationTopics.Event("cooling"), []byte(`{"kind":"updated"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case channel := <-received:
		if channel != "cooling" {
			t.Errorf("channel = %q, want cooling", channel)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for message")
	}
}
