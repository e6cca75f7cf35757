package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBeaconMessage(t *testing.T) {
	msg := NewBeaconMessage("", "site.1", "exit-1", []byte(`{"events":[]}`))

	assert.Equal(t, "pulse.beacon.site_1", msg.Subject)
	assert.Equal(t, []byte(`{"events":[]}`), msg.Data)
	assert.Equal(t, "site.1", msg.TrackingID())
	assert.Equal(t, "exit-1", msg.BatchID())
	assert.False(t, msg.Timestamp.IsZero())
}

func TestNewBeaconMessage_NoBatchID(t *testing.T) {
	msg := NewBeaconMessage("acme.beacon", "site-1", "", nil)

	assert.Equal(t, "acme.beacon.site-1", msg.Subject)
	assert.NotContains(t, msg.Header, HeaderBatchID)
	assert.Empty(t, msg.BatchID())
}

func TestMessage_NilHeader(t *testing.T) {
	msg := &Message{Subject: "s"}
	assert.Empty(t, msg.TrackingID())
	assert.Empty(t, msg.BatchID())
}
