package plugin

import (
	"bytes"
	"fmt"
	"log"
	"os/exec"
	"strings"
)

const (
	cronCommand = "storyboard-cron"
	// managerSchedule keeps the reconciler itself running from cron.
	managerSchedule = "*/5 * * * *"
	managerName     = "cron-manager"
)

// CronManager reconciles the invoking user's crontab with the registry.
// Lines it owns carry the plugin name as a trailing comment and invoke
// `storyboard-cron --plugin <name>`; every other crontab line is preserved
// verbatim.
type CronManager struct {
	registry *Registry
	// load/save are swappable for tests; defaults shell out to crontab.
	load func() (string, error)
	save func(string) error
}

func NewCronManager(registry *Registry) *CronManager {
	return &CronManager{
		registry: registry,
		load:     loadCrontab,
		save:     saveCrontab,
	}
}

// Reconcile rewrites the crontab so that exactly the enabled cron plugins
// (plus the manager entry itself) have entries.
func (c *CronManager) Reconcile() error {
	current, err := c.load()
	if err != nil {
		return fmt.Errorf("read crontab: %w", err)
	}

	var kept []string
	for _, line := range strings.Split(current, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, owned := parseOwnedLine(line); owned {
			continue
		}
		kept = append(kept, line)
	}

	entries := map[string]string{
		managerName: managerSchedule,
	}
	for _, p := range c.registry.Plugins() {
		t := p.Trigger()
		if t.CronExpr == "" || !p.Enabled() {
			continue
		}
		entries[p.Name()] = t.CronExpr
	}

	lines := append([]string{}, kept...)
	for _, p := range c.registry.Plugins() {
		if expr, ok := entries[p.Name()]; ok {
			lines = append(lines, cronLine(p.Name(), expr))
			delete(entries, p.Name())
		}
	}
	if expr, ok := entries[managerName]; ok {
		lines = append(lines, cronLine(managerName, expr))
	}

	rendered := strings.Join(lines, "\n") + "\n"
	if rendered == current {
		return nil
	}
	log.Printf("cron: updating crontab (%d managed entries)", len(lines)-len(kept))
	if err := c.save(rendered); err != nil {
		return fmt.Errorf("write crontab: %w", err)
	}
	return nil
}

func cronLine(name, expr string) string {
	return fmt.Sprintf("%s %s --plugin %s # %s", expr, cronCommand, name, name)
}

// parseOwnedLine returns the plugin name when the line is one of ours.
func parseOwnedLine(line string) (string, bool) {
	if !strings.Contains(line, cronCommand+" --plugin ") {
		return "", false
	}
	idx := strings.LastIndex(line, "#")
	if idx < 0 {
		return "", false
	}
	name := strings.TrimSpace(line[idx+1:])
	if name == "" {
		return "", false
	}
	return name, true
}

func loadCrontab() (string, error) {
	out, err := exec.Command("crontab", "-l").Output()
	if err != nil {
		// An empty crontab makes `crontab -l` exit non-zero on most
		// systems; treat that as no entries.
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 &&
			bytes.Contains(ee.Stderr, []byte("no crontab")) {
			return "", nil
		}
		if _, ok := err.(*exec.ExitError); ok {
			return "", nil
		}
		return "", err
	}
	return string(out), nil
}

func saveCrontab(content string) error {
	cmd := exec.Command("crontab", "-")
	cmd.Stdin = strings.NewReader(content)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
