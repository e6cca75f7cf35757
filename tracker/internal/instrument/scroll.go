package instrument

import (
	"math"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/telhawk-systems/pulse/tracker/pkg/event"
	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// ScrollDepthEvent names scroll events.
const ScrollDepthEvent = "scroll_depth"

// Scroll emits a scroll event after scrolling settles when the direction
// flipped or the depth moved at least the threshold since the last report.
type Scroll struct {
	emit      Emitter
	clock     quartz.Clock
	threshold float64
	debounce  time.Duration

	mu        sync.Mutex
	timer     *quartz.Timer
	gen       uint64
	evaluated float64
	reported  float64
	direction int
}

// NewScroll creates the scroll depth tracker.
func NewScroll(emit Emitter, clock quartz.Clock, threshold float64, debounce time.Duration) *Scroll {
	return &Scroll{emit: emit, clock: clock, threshold: threshold, debounce: debounce}
}

func (s *Scroll) Name() string { return "scroll" }

func (s *Scroll) Install(w host.Window) []func() {
	baseline := Depth(w.Viewport())
	s.mu.Lock()
	s.evaluated = baseline
	s.reported = baseline
	s.direction = 0
	s.mu.Unlock()

	remove := w.AddListener(host.SignalScroll, func(host.Signal) { s.schedule(w) })
	return []func(){remove, s.stop}
}

func (s *Scroll) schedule(w host.Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.debounce, func() { s.evaluate(w, gen) }, "instrument", "scroll")
}

func (s *Scroll) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scroll) evaluate(w host.Window, gen uint64) {
	depth := Depth(w.Viewport())

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil

	var dir int
	switch {
	case depth > s.evaluated:
		dir = 1
	case depth < s.evaluated:
		dir = -1
	}
	if dir == 0 {
		s.mu.Unlock()
		return
	}
	flipped := s.direction != 0 && dir != s.direction
	moved := math.Abs(depth-s.reported) >= s.threshold
	s.evaluated = depth
	s.direction = dir
	if !flipped && !moved {
		s.mu.Unlock()
		return
	}
	s.reported = depth
	s.mu.Unlock()

	direction := "down"
	if dir < 0 {
		direction = "up"
	}
	s.emit.Emit(Draft{
		Type: event.TypeScroll,
		Name: ScrollDepthEvent,
		Props: event.Props{
			"depth":     event.Number(math.Round(depth)),
			"direction": event.String(direction),
		},
	})
}
