package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/pulse/common/logging"
	"github.com/telhawk-systems/pulse/tracker/internal/envinfo"
	"github.com/telhawk-systems/pulse/tracker/internal/scenario"
	"github.com/telhawk-systems/pulse/tracker/pkg/event"
)

const visitDoc = `
scenarios:
  - name: pricing-visit
    url: https://shop.example.com/
    steps:
      - action: navigate
        target: /pricing
      - action: track
        name: plan_selected
        props:
          plan: pro
      - action: click
        element:
          tag: a
          attrs:
            href: https://docs.example.org/start
          text: Docs
      - action: hide
      - action: unload
`

// recordingSink wraps the development sink and keeps every accepted batch.
type recordingSink struct {
	sink *sink

	mu      sync.Mutex
	batches []event.Batch
}

func newRecordingSink(t *testing.T) (*recordingSink, string) {
	t.Helper()
	rs := &recordingSink{sink: newSink(logging.Discard(), 0)}
	routes := rs.sink.routes()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var b event.Batch
		if json.Unmarshal(body, &b) == nil {
			rs.mu.Lock()
			rs.batches = append(rs.batches, b)
			rs.mu.Unlock()
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		routes.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return rs, srv.URL + collectPath
}

func (rs *recordingSink) events() []event.Event {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var out []event.Event
	for _, b := range rs.batches {
		out = append(out, b.Events...)
	}
	return out
}

func (rs *recordingSink) unloadBatches() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	n := 0
	for _, b := range rs.batches {
		if b.Metadata.Unload {
			n++
		}
	}
	return n
}

// execute runs the command tree against fs with a clean working directory
// so no stray pulse.yaml is picked up.
func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("PULSE_LOGGING_LEVEL", "error")

	cmd := newRootCommand(&app{fs: fs})
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeScenario(t *testing.T, fs afero.Fs, doc string) string {
	t.Helper()
	const path = "/scenarios/visit.yaml"
	require.NoError(t, afero.WriteFile(fs, path, []byte(doc), 0o644))
	return path
}

func TestRootCommand(t *testing.T) {
	root := NewRootCommand()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"simulate", "sink", "version"} {
		assert.True(t, names[want], "missing command %q", want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, envinfo.LibraryName+" "+envinfo.LibraryVersion+" "), out)
}

func TestSimulate_Dump(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "simulate", "--fake", "3", "--seed", "7", "--dump")
	require.NoError(t, err)

	scenarios, err := scenario.Decode(strings.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, scenarios, 3)

	again, err := execute(t, afero.NewMemMapFs(), "simulate", "--fake", "3", "--seed", "7", "--dump")
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestSimulate_FlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no input", args: []string{"simulate"}, want: "scenario"},
		{name: "both inputs", args: []string{"simulate", "--fake", "1", "-f", "x.yaml"}, want: "scenario"},
		{name: "non-positive fake", args: []string{"simulate", "--fake", "-1"}, want: "positive"},
		{name: "missing tracking id", args: []string{"simulate", "--fake", "1"}, want: "tracking"},
		{name: "missing scenario file", args: []string{"simulate", "-f", "/nope.yaml", "--tracking-id", "site-1"}, want: "open scenario file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, afero.NewMemMapFs(), tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSimulate_DeliversToSink(t *testing.T) {
	rs, endpoint := newRecordingSink(t)
	fs := afero.NewMemMapFs()
	path := writeScenario(t, fs, visitDoc)

	out, err := execute(t, fs, "simulate", "-f", path, "--tracking-id", "site-1", "--endpoint", endpoint)
	require.NoError(t, err)
	assert.Contains(t, out, "played 1 visits (0 failed)")

	events := rs.events()
	byType := make(map[event.Type][]event.Event)
	for _, ev := range events {
		byType[ev.Type] = append(byType[ev.Type], ev)
		assert.Equal(t, "site-1", ev.Context.TrackingID)
	}

	require.Len(t, byType[event.TypePageView], 2)
	assert.Equal(t, "/", byType[event.TypePageView][0].Location.Path)
	assert.Equal(t, "/pricing", byType[event.TypePageView][1].Location.Path)

	require.Len(t, byType[event.TypeCustom], 1)
	assert.Equal(t, "plan_selected", byType[event.TypeCustom][0].Name)

	require.Len(t, byType[event.TypeClick], 1)
	assert.Equal(t, 1, rs.unloadBatches())
	assert.EqualValues(t, len(events), rs.sink.events.Load())
}

func TestSimulate_FileStorageKeepsVisitor(t *testing.T) {
	rs, endpoint := newRecordingSink(t)
	fs := afero.NewMemMapFs()
	doc := visitDoc + strings.Replace(strings.TrimPrefix(visitDoc, "\nscenarios:\n"), "pricing-visit", "second-visit", 1)
	path := writeScenario(t, fs, doc)

	t.Setenv("PULSE_STORAGE_BACKEND", "file")
	t.Setenv("PULSE_STORAGE_PATH", "/state/pulse.json")
	_, err := execute(t, fs, "simulate", "-f", path, "--tracking-id", "site-1", "--endpoint", endpoint)
	require.NoError(t, err)

	exists, err := afero.Exists(fs, "/state/pulse.json")
	require.NoError(t, err)
	assert.True(t, exists)

	users := make(map[string]bool)
	sessions := make(map[string]bool)
	for _, ev := range rs.events() {
		users[ev.UserID] = true
		sessions[ev.SessionID] = true
	}
	assert.Len(t, users, 1)
	assert.Len(t, sessions, 2)
}

func TestSimulate_RedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	rs, endpoint := newRecordingSink(t)
	fs := afero.NewMemMapFs()
	path := writeScenario(t, fs, visitDoc)

	t.Setenv("PULSE_STORAGE_BACKEND", "redis")
	t.Setenv("PULSE_REDIS_URL", "redis://"+mr.Addr())
	_, err := execute(t, fs, "simulate", "-f", path, "--tracking-id", "site-1", "--endpoint", endpoint)
	require.NoError(t, err)

	uid, err := mr.Get("pulse:pulse_uid")
	require.NoError(t, err)
	require.NotEmpty(t, rs.events())
	assert.Equal(t, uid, rs.events()[0].UserID)
}

func TestSimulate_BackendUnavailable(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "redis",
			env:  map[string]string{"PULSE_STORAGE_BACKEND": "redis", "PULSE_REDIS_URL": "redis://127.0.0.1:1/0"},
			want: "redis",
		},
		{
			name: "nats",
			env:  map[string]string{"PULSE_BEACON_TRANSPORT": "nats", "PULSE_NATS_URL": "nats://127.0.0.1:1"},
			want: "NATS",
		},
		{
			name: "unknown backend",
			env:  map[string]string{"PULSE_STORAGE_BACKEND": "etcd"},
			want: "unknown storage backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := execute(t, afero.NewMemMapFs(), "simulate", "--fake", "1", "--tracking-id", "site-1")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
