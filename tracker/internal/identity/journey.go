package identity

import (
	"encoding/json"
	"sync"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/tracker/pkg/storage"
)

// Journey is the ordered set of page paths visited in the session. It is
// persisted to the session slot on a best-effort basis.
type Journey struct {
	session storage.Store
	logger  *logging.Logger

	mu    sync.Mutex
	paths []string
	seen  map[string]struct{}
}

// LoadJourney restores the journey from the session slot. A missing or
// unreadable slot starts an empty journey.
func LoadJourney(session storage.Store, logger *logging.Logger) *Journey {
	if logger == nil {
		logger = logging.Discard()
	}
	if session == nil {
		session = storage.Unavailable{}
	}
	j := &Journey{
		session: session,
		logger:  logger,
		seen:    make(map[string]struct{}),
	}

	raw, ok, err := session.Get(KeyJourney)
	if err != nil || !ok {
		return j
	}
	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		logger.Debug("discarding unreadable journey", logging.Error(err))
		return j
	}
	for _, p := range paths {
		j.add(p)
	}
	return j
}

// Append adds path if it has not been visited yet and reports whether it
// was added.
func (j *Journey) Append(path string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.add(path) {
		return false
	}
	raw, err := json.Marshal(j.paths)
	if err == nil {
		err = j.session.Set(KeyJourney, string(raw))
	}
	if err != nil {
		j.logger.Debug("failed to persist journey", logging.Error(err))
	}
	return true
}

func (j *Journey) add(path string) bool {
	if _, ok := j.seen[path]; ok {
		return false
	}
	j.seen[path] = struct{}{}
	j.paths = append(j.paths, path)
	return true
}

// Paths returns a copy of the journey.
func (j *Journey) Paths() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string{}, j.paths...)
}

// Len returns the number of distinct paths.
func (j *Journey) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.paths)
}
