package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/pulse/common/messaging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, nats.DefaultURL, cfg.URL)
	assert.Equal(t, "pulse", cfg.Name)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.ReconnectWait)
}

func TestToNATS(t *testing.T) {
	msg := messaging.NewBeaconMessage("", "site-1", "exit-1", []byte("payload"))

	m := toNATS(msg)

	assert.Equal(t, "pulse.beacon.site-1", m.Subject)
	assert.Equal(t, []byte("payload"), m.Data)
	assert.Equal(t, "site-1", m.Header.Get(messaging.HeaderTrackingID))
	assert.Equal(t, "exit-1", m.Header.Get(messaging.HeaderBatchID))
}

func TestToNATS_NoHeaders(t *testing.T) {
	m := toNATS(&messaging.Message{Subject: "s", Data: []byte("d")})
	assert.Nil(t, m.Header)
}

func TestFromNATS(t *testing.T) {
	m := nats.NewMsg("pulse.beacon.site-1")
	m.Data = []byte("payload")
	m.Header.Set(messaging.HeaderTrackingID, "site-1")

	msg := fromNATS(m)

	assert.Equal(t, "pulse.beacon.site-1", msg.Subject)
	assert.Equal(t, []byte("payload"), msg.Data)
	assert.Equal(t, "site-1", msg.TrackingID())
	assert.False(t, msg.Timestamp.IsZero())

	assert.Nil(t, fromNATS(&nats.Msg{Subject: "s"}).Header)
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 100 * time.Millisecond

	_, err := NewClient(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}
