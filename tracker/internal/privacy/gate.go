// Package privacy holds the opt-out gate every collection path consults.
package privacy

import (
	"sync/atomic"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
	"github.com/telhawk-systems/pulse/tracker/pkg/storage"
)

// KeyOptOut is the durable slot holding the opt-out flag.
const KeyOptOut = "pulse_opt_out"

const optOutValue = "1"

// Gate is the opt-out predicate. The flag is read from durable storage once
// at construction and written through on every change; when storage is
// unavailable the flag lives in memory for the life of the gate.
type Gate struct {
	durable  storage.Store
	logger   *logging.Logger
	optedOut atomic.Bool
}

// NewGate creates a gate backed by the durable slot.
func NewGate(durable storage.Store, logger *logging.Logger) *Gate {
	if durable == nil {
		durable = storage.Unavailable{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	g := &Gate{durable: durable, logger: logger}

	v, ok, err := durable.Get(KeyOptOut)
	if err != nil {
		logger.Warn("cannot read opt-out flag, assuming opted in", logging.Error(err))
		return g
	}
	g.optedOut.Store(ok && v == optOutValue)
	return g
}

// OptedOut reports whether collection is disabled.
func (g *Gate) OptedOut() bool {
	return g.optedOut.Load()
}

// OptOut disables collection and persists the choice.
func (g *Gate) OptOut() {
	g.optedOut.Store(true)
	if err := g.durable.Set(KeyOptOut, optOutValue); err != nil {
		g.logger.Warn("cannot persist opt-out flag", logging.Error(err))
	}
}

// OptIn re-enables collection and clears the persisted flag.
func (g *Gate) OptIn() {
	g.optedOut.Store(false)
	if err := g.durable.Remove(KeyOptOut); err != nil {
		g.logger.Warn("cannot clear opt-out flag", logging.Error(err))
	}
}

// Snapshot is the privacy state recorded on an event at creation.
type Snapshot struct {
	DoNotTrack           bool
	GlobalPrivacyControl bool
	OptedOut             bool
}

// Snapshot captures the gate together with the browser privacy signals.
func (g *Gate) Snapshot(nav host.Navigator) Snapshot {
	return Snapshot{
		DoNotTrack:           nav.DoNotTrack,
		GlobalPrivacyControl: nav.GlobalPrivacyControl,
		OptedOut:             g.OptedOut(),
	}
}
