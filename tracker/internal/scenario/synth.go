package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/pulse/tracker/pkg/host"
)

var (
	synthSections = []string{"pricing", "docs", "blog", "features", "about", "careers", "changelog"}
	synthPlans    = []string{"free", "starter", "pro", "enterprise"}
	synthEvents   = []string{"signup_started", "video_played", "newsletter_subscribed", "search", "plan_selected"}
)

// Synthesize generates n random visits to baseURL. Each visit loads the
// page, browses a few sections and ends by hiding and unloading the page.
// The same faker seed yields the same scenarios.
func Synthesize(faker *gofakeit.Faker, n int, baseURL string) ([]Scenario, error) {
	base, err := host.ParseLocation(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if faker == nil {
		faker = gofakeit.New(time.Now().UnixNano())
	}

	out := make([]Scenario, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, synthVisit(faker, i, base))
	}
	return out, nil
}

func synthVisit(f *gofakeit.Faker, i int, base host.Location) Scenario {
	ttfb := float64(f.Number(20, 300))
	domReady := ttfb + float64(f.Number(100, 800))

	s := Scenario{
		Name:       fmt.Sprintf("visit-%03d", i+1),
		URL:        base.Origin() + "/",
		UserAgent:  f.UserAgent(),
		Language:   f.LanguageBCP(),
		Timezone:   f.TimeZoneRegion(),
		PageHeight: float64(f.Number(1600, 6400)),
		Timing: &Timing{
			TTFB:     ttfb,
			DOMReady: domReady,
			Load:     domReady + float64(f.Number(100, 1500)),
		},
	}

	steps := []Step{
		{Action: ActionLoad},
		synthWait(f),
	}

	pages := f.Number(1, 4)
	for p := 0; p < pages; p++ {
		steps = append(steps,
			Step{Action: ActionNavigate, Target: synthPath(f)},
			synthWait(f),
			Step{Action: ActionScroll, Percent: float64(f.Number(10, 100))},
		)
		if f.Bool() {
			steps = append(steps, Step{Action: ActionPointer})
		}
	}

	if f.Bool() {
		steps = append(steps, Step{
			Action: ActionTrack,
			Name:   f.RandomString(synthEvents),
			Props:  map[string]any{"plan": f.RandomString(synthPlans)},
		})
	}
	if f.Number(1, 4) == 1 {
		steps = append(steps, Step{
			Action: ActionClick,
			Element: &Element{
				Tag:   "a",
				Attrs: map[string]string{"href": "https://" + f.DomainName() + "/"},
				Text:  f.Word(),
			},
		})
	}
	if f.Number(1, 5) == 1 {
		steps = append(steps, Step{
			Action:   ActionPurchase,
			Product:  "sku-" + f.UUID()[:8],
			Price:    f.Price(5, 500),
			Currency: f.CurrencyShort(),
		})
	}

	steps = append(steps,
		synthWait(f),
		Step{Action: ActionHide},
		Step{Action: ActionUnload},
	)
	s.Steps = steps
	return s
}

func synthPath(f *gofakeit.Faker) string {
	section := f.RandomString(synthSections)
	if f.Bool() {
		return "/" + section
	}
	return "/" + section + "/" + strings.ToLower(f.Word())
}

func synthWait(f *gofakeit.Faker) Step {
	return Step{Action: ActionWait, Duration: time.Duration(f.Number(1, 20)) * time.Second}
}
