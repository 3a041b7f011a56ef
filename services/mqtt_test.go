package services

import (
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }

func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type subscribeCall struct {
	filter string
	qos    byte
}

// fakePahoClient records Subscribe calls; every other client method is
// unused by the code under test.
type fakePahoClient struct {
	mqtt.Client
	mu    sync.Mutex
	calls []subscribeCall
}

func (c *fakePahoClient) Subscribe(topic string, qos byte, _ mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, subscribeCall{filter: topic, qos: qos})
	return doneToken{}
}

func (c *fakePahoClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = nil
}

func TestResubscribeReplaysOriginalQoS(t *testing.T) {
	client := &fakePahoClient{}
	m := &MQTTService{
		client:        client,
		logger:        zap.NewNop(),
		subscriptions: make(map[string]subscription),
	}

	require.NoError(t, m.Subscribe("home-automation/+/state", 1, nil))
	require.NoError(t, m.Subscribe("home-automation/esp/+/auth", 2, nil))
	require.NoError(t, m.Subscribe("home-automation/+/status", 0, nil))

	client.reset()
	m.resubscribe()

	assert.ElementsMatch(t, []subscribeCall{
		{filter: "home-automation/+/state", qos: 1},
		{filter: "home-automation/esp/+/auth", qos: 2},
		{filter: "home-automation/+/status", qos: 0},
	}, client.calls)
}

func TestSubscribeOverwriteKeepsLatestQoS(t *testing.T) {
	client := &fakePahoClient{}
	m := &MQTTService{
		client:        client,
		logger:        zap.NewNop(),
		subscriptions: make(map[string]subscription),
	}

	require.NoError(t, m.Subscribe("home-automation/+/state", 0, nil))
	require.NoError(t, m.Subscribe("home-automation/+/state", 1, nil))

	client.reset()
	m.resubscribe()

	require.Len(t, client.calls, 1)
	assert.Equal(t, byte(1), client.calls[0].qos)
}
