package model

import "testing"

func TestModesClosedSet(t *testing.T) {
	modes := Modes()
	if len(modes) != 8 {
		t.Fatalf("Modes() returned %d modes, want 8", len(modes))
	}

	want := map[TrimmingMode]bool{
		"gappy":          true,
		"smart-gap":      true,
		"kpi":            true,
		"kpi-gappy":      true,
		"kpi-smart-gap":  true,
		"kpic":           true,
		"kpic-gappy":     true,
		"kpic-smart-gap": true,
	}
	for _, m := range modes {
		if !want[m] {
			t.Errorf("unexpected mode %q", m)
		}
		delete(want, m)
	}
	if len(want) != 0 {
		t.Errorf("missing modes: %v", want)
	}
}

func TestParseTrimmingMode(t *testing.T) {
	for _, m := range Modes() {
		got, err := ParseTrimmingMode(string(m))
		if err != nil {
			t.Errorf("ParseTrimmingMode(%q): %v", m, err)
		}
		if got != m {
			t.Errorf("ParseTrimmingMode(%q) = %q", m, got)
		}
	}

	for _, s := range []string{"", "smartgap", "GAPPY", "kpi_gappy", "smart-gap "} {
		if _, err := ParseTrimmingMode(s); err == nil {
			t.Errorf("ParseTrimmingMode(%q) succeeded, want error", s)
		}
	}
}

func TestModeDescriptions(t *testing.T) {
	for _, m := range Modes() {
		if m.Description() == "" {
			t.Errorf("mode %q has no description", m)
		}
	}
}
