// Package scenario scripts simulated visits: YAML scenario files and
// synthetic sessions, played against a simulated host and an engine.
package scenario

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

// Step actions.
const (
	ActionNavigate   = "navigate"
	ActionBack       = "back"
	ActionHash       = "hash"
	ActionClick      = "click"
	ActionScroll     = "scroll"
	ActionPointer    = "pointer"
	ActionKey        = "key"
	ActionTouch      = "touch"
	ActionHide       = "hide"
	ActionShow       = "show"
	ActionUnload     = "unload"
	ActionLoad       = "load"
	ActionWait       = "wait"
	ActionTrack      = "track"
	ActionPageView   = "pageview"
	ActionForm       = "form"
	ActionPurchase   = "purchase"
	ActionGlobals    = "globals"
	ActionOptOut     = "optout"
	ActionOptIn      = "optin"
	ActionFlush      = "flush"
	ActionTrackClick = "track_click"
)

var actions = map[string]bool{
	ActionNavigate: true, ActionBack: true, ActionHash: true, ActionClick: true,
	ActionScroll: true, ActionPointer: true, ActionKey: true, ActionTouch: true,
	ActionHide: true, ActionShow: true, ActionUnload: true, ActionLoad: true,
	ActionWait: true, ActionTrack: true, ActionPageView: true, ActionForm: true,
	ActionPurchase: true, ActionGlobals: true, ActionOptOut: true, ActionOptIn: true,
	ActionFlush: true, ActionTrackClick: true,
}

// ErrInvalidScenario wraps every validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// File is the top level of a scenario document.
type File struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Scenario is one scripted visit.
type Scenario struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	UserAgent string `yaml:"user_agent,omitempty"`
	Language  string `yaml:"language,omitempty"`
	Timezone  string `yaml:"timezone,omitempty"`
	// PageHeight is the scrollable document height in pixels. Zero means
	// four viewports.
	PageHeight float64 `yaml:"page_height,omitempty"`
	Timing     *Timing `yaml:"timing,omitempty"`
	Steps      []Step  `yaml:"steps"`
}

// Timing is the navigation timing reported by the load step, in
// milliseconds from navigation start.
type Timing struct {
	TTFB     float64 `yaml:"ttfb"`
	DOMReady float64 `yaml:"dom_ready"`
	Load     float64 `yaml:"load"`
}

// Step is one action in a scenario. Which fields matter depends on Action.
type Step struct {
	Action   string         `yaml:"action"`
	Target   string         `yaml:"target,omitempty"`
	Element  *Element       `yaml:"element,omitempty"`
	Percent  float64        `yaml:"percent,omitempty"`
	Duration time.Duration  `yaml:"duration,omitempty"`
	Name     string         `yaml:"name,omitempty"`
	Props    map[string]any `yaml:"props,omitempty"`
	Success  bool           `yaml:"success,omitempty"`
	Error    string         `yaml:"error,omitempty"`
	Product  string         `yaml:"product,omitempty"`
	Price    float64        `yaml:"price,omitempty"`
	Currency string         `yaml:"currency,omitempty"`
}

// Element describes a clicked element and its ancestors.
type Element struct {
	Tag    string            `yaml:"tag"`
	Attrs  map[string]string `yaml:"attrs,omitempty"`
	Text   string            `yaml:"text,omitempty"`
	Parent *Element          `yaml:"parent,omitempty"`
}

// Build returns the host element tree for e.
func (e *Element) Build() *host.Element {
	if e == nil {
		return nil
	}
	el := &host.Element{Tag: e.Tag, Attrs: make(map[string]string, len(e.Attrs)), Text: e.Text}
	for k, v := range e.Attrs {
		el.Attrs[k] = v
	}
	if e.Parent != nil {
		e.Parent.Build().Append(el)
	}
	return el
}

// Decode reads and validates a scenario document.
func Decode(r io.Reader) ([]Scenario, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidScenario)
		}
		return nil, fmt.Errorf("failed to decode scenarios: %w", err)
	}
	for i := range f.Scenarios {
		if err := f.Scenarios[i].Validate(); err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i, err)
		}
	}
	return f.Scenarios, nil
}

// LoadFile reads a scenario document from fsys.
func LoadFile(fsys afero.Fs, path string) ([]Scenario, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Encode writes scenarios as a YAML document.
func Encode(w io.Writer, scenarios []Scenario) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(File{Scenarios: scenarios}); err != nil {
		return fmt.Errorf("failed to encode scenarios: %w", err)
	}
	return enc.Close()
}

// Validate checks the scenario's URL and steps.
func (s *Scenario) Validate() error {
	if _, err := host.ParseLocation(s.URL); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidScenario, s.Name, err)
	}
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("%w: %q step %d: %v", ErrInvalidScenario, s.Name, i, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	if !actions[s.Action] {
		return fmt.Errorf("unknown action %q", s.Action)
	}
	switch s.Action {
	case ActionNavigate, ActionBack, ActionHash:
		if s.Target == "" {
			return fmt.Errorf("%s needs a target", s.Action)
		}
	case ActionClick:
		if s.Element == nil {
			return errors.New("click needs an element")
		}
	case ActionScroll:
		if s.Percent < 0 || s.Percent > 100 {
			return fmt.Errorf("scroll percent %v outside [0,100]", s.Percent)
		}
	case ActionWait:
		if s.Duration <= 0 {
			return errors.New("wait needs a positive duration")
		}
	case ActionTrack:
		if s.Name == "" {
			return errors.New("track needs a name")
		}
	case ActionPurchase:
		if s.Product == "" || s.Currency == "" {
			return errors.New("purchase needs a product and a currency")
		}
	}
	return nil
}
