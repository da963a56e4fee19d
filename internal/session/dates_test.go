package session

import "testing"

func TestParseDate_EquivalentForms(t *testing.T) {
	forms := []string{"2026-02-12", "2026/02/12", "20260212", "2026-2-12", "2026/2/12", " 2026-02-12 "}
	for _, f := range forms {
		got, ok := ParseDate(f)
		if !ok {
			t.Errorf("ParseDate(%q) rejected", f)
			continue
		}
		if got != "2026-02-12" {
			t.Errorf("ParseDate(%q) = %q, want 2026-02-12", f, got)
		}
	}
}

func TestParseDate_SingleDigit(t *testing.T) {
	got, ok := ParseDate("2026-3-7")
	if !ok || got != "2026-03-07" {
		t.Errorf("ParseDate(2026-3-7) = %q, %v", got, ok)
	}
}

func TestParseDate_Invalid(t *testing.T) {
	invalid := []string{
		"2026-13-40", // month out of range
		"2026-02-30", // day invalid for February
		"2026-00-10",
		"yesterday",
		"2026",
		"202602",
		"",
		"12-02-2026",
	}
	for _, f := range invalid {
		if got, ok := ParseDate(f); ok {
			t.Errorf("ParseDate(%q) accepted as %q, want rejection", f, got)
		}
	}
}

func TestParseDate_InteriorWhitespace(t *testing.T) {
	if got, ok := ParseDate("2026 - 02 - 12"); !ok || got != "2026-02-12" {
		t.Errorf("whitespace around separators should normalize, got %q, %v", got, ok)
	}
}
