package selftest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cncworks/shadow/pkg/sysexec"
)

// criticalMessageKeywords flags a priority<=3 journal entry as SHADOW's
// own concern rather than generic system noise.
var criticalMessageKeywords = []string{
	"shadow", "g_mass_storage", "dwc2", "fsm", "rebuild", "export",
}

// systemNoiseKeywords are unrelated daemons that routinely log at
// warning/error priority on a normally healthy box.
var systemNoiseKeywords = []string{
	"bluetoothd", "wpa_supplicant", "dhcpcd", "networkmanager",
	"avahi-daemon", "modemmanager", "systemd-resolved",
}

type journalEntry struct {
	Unit       string `json:"_SYSTEMD_UNIT"`
	Identifier string `json:"SYSLOG_IDENTIFIER"`
	Message    string `json:"MESSAGE"`
	Priority   string `json:"PRIORITY"`
}

func (e journalEntry) detail() string {
	unit := e.Unit
	if unit == "" {
		unit = e.Identifier
	}
	if unit == "" {
		unit = "unknown"
	}
	msg := strings.TrimSpace(e.Message)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Sprintf("%s: %s", unit, msg)
}

func (e journalEntry) isCritical() bool {
	unit := strings.ToLower(e.Unit)
	if strings.HasPrefix(unit, "cnc-") {
		return true
	}
	msg := strings.ToLower(e.Message)
	for _, kw := range criticalMessageKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func (e journalEntry) isSystemNoise() bool {
	haystack := strings.ToLower(e.Unit + " " + e.Identifier + " " + e.Message)
	for _, kw := range systemNoiseKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// RunJournalChecks inspects journalctl's priority<=3 (error and above)
// entries, classifying each as a SHADOW-critical failure, expected
// system noise, or an unrelated warning, mirroring
// original_source/cnc_control/selftest/journal.py's run_journal_checks.
func RunJournalChecks(ctx context.Context, runner sysexec.Runner) SectionResult {
	var section SectionResult

	binary, err := sysexec.ResolveBinary("journalctl")
	if err != nil {
		section.AddCheck("journalctl command", StatusWarn, SeverityWarn, err.Error())
		return section
	}

	result, err := runner.Run(ctx, binary, "-p", "3", "-o", "json", "--no-pager")
	if err != nil {
		section.AddCheck("journalctl command", StatusWarn, SeverityWarn, err.Error())
		return section
	}
	if !result.Succeeded() {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = fmt.Sprintf("journalctl exited %d", result.ExitCode)
		}
		section.AddCheck("journalctl command", StatusWarn, SeverityWarn, detail)
		return section
	}

	payloads := parseJournalPayloads(result.Stdout)
	if len(payloads) == 0 {
		section.AddCheck("journalctl entries", StatusPass, SeverityWarn, "No priority<=3 entries")
		return section
	}

	recorded := 0
	for _, entry := range payloads {
		switch {
		case entry.isCritical():
			section.AddCheck("journal: "+entry.detail(), StatusFail, SeverityCritical, entry.detail())
			recorded++
		case entry.isSystemNoise():
			section.SystemNoise++
			recorded++
		default:
			section.AddCheck("journal: "+entry.detail(), StatusWarn, SeverityWarn, entry.detail())
			recorded++
		}
	}

	if section.Critical == 0 && recorded == 0 {
		section.AddCheck("journalctl entries", StatusPass, SeverityWarn, "No actionable entries")
	}

	return section
}

func parseJournalPayloads(stdout string) []journalEntry {
	var entries []journalEntry
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e journalEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}
