package plugin

import (
	"context"
	"testing"
	"time"
)

type fakePlugin struct {
	name    string
	enabled bool
	trigger Trigger
	prefs   map[string]string
	runs    int
	runErr  error
}

func (f *fakePlugin) Name() string                        { return f.name }
func (f *fakePlugin) Enabled() bool                       { return f.enabled }
func (f *fakePlugin) Trigger() Trigger                    { return f.trigger }
func (f *fakePlugin) DefaultPreferences() map[string]string { return f.prefs }
func (f *fakePlugin) Run(context.Context) error {
	f.runs++
	return f.runErr
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakePlugin{name: "alpha"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&fakePlugin{name: "alpha"}); err == nil {
		t.Fatal("duplicate name should be rejected")
	}
	if err := r.Register(&fakePlugin{name: "bad name"}); err == nil {
		t.Fatal("name with whitespace should be rejected")
	}
	if err := r.Register(&fakePlugin{name: ""}); err == nil {
		t.Fatal("empty name should be rejected")
	}

	if _, ok := r.Get("alpha"); !ok {
		t.Fatal("registered plugin should be retrievable")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unknown plugin should not be found")
	}
}

func TestRegistryPluginsSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(&fakePlugin{name: name}); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	var got []string
	for _, p := range r.Plugins() {
		got = append(got, p.Name())
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Plugins order = %v, want %v", got, want)
		}
	}
}

func TestRegistryDefaultPreferences(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakePlugin{name: "a", prefs: map[string]string{"plugin_a": "on"}})
	r.Register(&fakePlugin{name: "b", prefs: map[string]string{"plugin_b": "off"}})

	merged := r.DefaultPreferences()
	if merged["plugin_a"] != "on" || merged["plugin_b"] != "off" {
		t.Fatalf("merged defaults = %v", merged)
	}
}

func TestTriggerDescription(t *testing.T) {
	cases := []struct {
		name    string
		trigger Trigger
		want    string
	}{
		{name: "interval", trigger: Trigger{Interval: time.Minute}, want: "interval:1m0s"},
		{name: "cron", trigger: Trigger{CronExpr: "*/5 * * * *"}, want: "cron:*/5 * * * *"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.trigger.Description(); got != tc.want {
				t.Fatalf("Description = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStateLastRunRoundTrip(t *testing.T) {
	state, err := NewState(t.TempDir())
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}

	got, err := state.LastRun("never-ran")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("LastRun before any run = %v, want zero", got)
	}

	mark := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	if err := state.MarkRun("sender", mark); err != nil {
		t.Fatalf("MarkRun: %v", err)
	}
	got, err = state.LastRun("sender")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if !got.Equal(mark) {
		t.Fatalf("LastRun = %v, want %v", got, mark)
	}
}
