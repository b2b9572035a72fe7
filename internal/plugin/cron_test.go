package plugin

import (
	"strings"
	"testing"
)

func TestCronReconcileAddsEntries(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakePlugin{name: "nightly-report", enabled: true, trigger: Trigger{CronExpr: "0 2 * * *"}})

	var saved string
	c := NewCronManager(r)
	c.load = func() (string, error) { return "", nil }
	c.save = func(s string) error { saved = s; return nil }

	if err := c.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !strings.Contains(saved, "0 2 * * * storyboard-cron --plugin nightly-report # nightly-report") {
		t.Fatalf("missing plugin entry in:\n%s", saved)
	}
	if !strings.Contains(saved, "*/5 * * * * storyboard-cron --plugin cron-manager # cron-manager") {
		t.Fatalf("missing manager entry in:\n%s", saved)
	}
}

func TestCronReconcilePreservesForeignLines(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakePlugin{name: "nightly-report", enabled: true, trigger: Trigger{CronExpr: "0 2 * * *"}})

	existing := "MAILTO=ops@example.com\n" +
		"0 4 * * * /usr/local/bin/backup.sh\n" +
		"0 3 * * * storyboard-cron --plugin stale-plugin # stale-plugin\n"

	var saved string
	c := NewCronManager(r)
	c.load = func() (string, error) { return existing, nil }
	c.save = func(s string) error { saved = s; return nil }

	if err := c.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !strings.Contains(saved, "MAILTO=ops@example.com") {
		t.Fatal("environment line should be preserved")
	}
	if !strings.Contains(saved, "/usr/local/bin/backup.sh") {
		t.Fatal("foreign job should be preserved")
	}
	if strings.Contains(saved, "stale-plugin") {
		t.Fatal("entry for removed plugin should be dropped")
	}
}

func TestCronReconcileSkipsDisabledAndIntervalPlugins(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakePlugin{name: "disabled", enabled: false, trigger: Trigger{CronExpr: "0 1 * * *"}})
	r.Register(&fakePlugin{name: "in-process", enabled: true, trigger: Trigger{Interval: 60e9}})

	var saved string
	c := NewCronManager(r)
	c.load = func() (string, error) { return "", nil }
	c.save = func(s string) error { saved = s; return nil }

	if err := c.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if strings.Contains(saved, "--plugin disabled") {
		t.Fatal("disabled plugin should not be scheduled")
	}
	if strings.Contains(saved, "--plugin in-process") {
		t.Fatal("interval plugin should not get a crontab entry")
	}
}

func TestCronReconcileNoChangeNoWrite(t *testing.T) {
	r := NewRegistry()

	existing := "*/5 * * * * storyboard-cron --plugin cron-manager # cron-manager\n"
	c := NewCronManager(r)
	c.load = func() (string, error) { return existing, nil }
	c.save = func(string) error {
		t.Fatal("save should not be called when nothing changed")
		return nil
	}

	if err := c.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
}

func TestParseOwnedLine(t *testing.T) {
	cases := []struct {
		name  string
		line  string
		plugin string
		owned bool
	}{
		{name: "owned", line: "0 2 * * * storyboard-cron --plugin x # x", plugin: "x", owned: true},
		{name: "foreign command", line: "0 2 * * * /bin/true # x", owned: false},
		{name: "owned without comment", line: "0 2 * * * storyboard-cron --plugin x", owned: false},
		{name: "env line", line: "MAILTO=a@b", owned: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			name, owned := parseOwnedLine(tc.line)
			if owned != tc.owned || name != tc.plugin {
				t.Fatalf("parseOwnedLine(%q) = %q,%v", tc.line, name, owned)
			}
		})
	}
}
