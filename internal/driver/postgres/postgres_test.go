package postgres

import "testing"

func TestDriverName(t *testing.T) {
	d := &Driver{}
	if d.Name() != "postgres" {
		t.Errorf("Name = %q", d.Name())
	}
	found := false
	for _, a := range d.Aliases() {
		if a == "pg" {
			found = true
		}
	}
	if !found {
		t.Error("expected pg alias")
	}
}

func TestDriverRejectsSourceRole(t *testing.T) {
	d := &Driver{}
	if _, err := d.NewSource(nil, 1); err == nil {
		t.Error("postgres must not open as a source")
	}
}

func TestQuoteHelpers(t *testing.T) {
	if got := quoteLower("PATIENT_ID"); got != `"patient_id"` {
		t.Errorf("quoteLower = %s", got)
	}
	if got := quoteQualified("PUBLIC", "Visits"); got != `"public"."visits"` {
		t.Errorf("quoteQualified = %s", got)
	}
}
