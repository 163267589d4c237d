package orchestrator

import (
	"context"
	sqldriver "database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/oradrift/oradrift/internal/checkpoint"
	"github.com/oradrift/oradrift/internal/driver"
)

func TestNormalizeDecimal(t *testing.T) {
	tests := []struct{ in, want string }{
		{"1.25", "1.25"},
		{"1.250", "1.25"},
		{"125e-2", "1.25"},
		{"1.25e2", "125"},
		{"1e3", "1000"},
		{"2.5e-4", "0.00025"},
		{"007", "7"},
		{"-0.5", "-0.5"},
		{"-0", "0"},
		{"0.000", "0"},
		{"NaN", "NaN"},
		{"patient-1", "patient-1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeDecimal(tt.in); got != tt.want {
			t.Errorf("normalizeDecimal(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// decimalText mimics pgx handing back a numeric as its own wrapper type
// instead of a Go native.
type decimalText struct{ s string }

func (d decimalText) Value() (sqldriver.Value, error) { return d.s, nil }

// valuerTarget serves validation reads in a divergent driver
// representation: integers come back as Valuer-wrapped decimal strings.
// One row can optionally be tampered with to carry a real difference.
type valuerTarget struct {
	*fakeTarget
	tamperTable string
	tamperRow   int64
}

func (v *valuerTarget) ReadRows(ctx context.Context, req driver.ReadRequest) ([][]any, error) {
	rows, err := v.fakeTarget.ReadRows(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([][]any, len(rows))
	for i, row := range rows {
		abs := req.Offset + int64(i)
		cp := make([]any, len(row))
		for j, val := range row {
			switch x := val.(type) {
			case int64:
				cp[j] = decimalText{s: fmt.Sprintf("%d.000", x)}
			case string:
				if strings.EqualFold(req.Table, v.tamperTable) && abs == v.tamperRow {
					cp[j] = x + "-tampered"
				} else {
					cp[j] = x
				}
			default:
				cp[j] = val
			}
		}
		out[i] = cp
	}
	return out, nil
}

func TestChecksumIgnoresDriverRepresentation(t *testing.T) {
	src := newFakeSource(fixtureCatalog(), fixtureData())
	tgt := newFakeTarget()
	o, st, _ := newTestHarness(t, testConfig(), src, tgt)
	o.tgt = &valuerTarget{fakeTarget: tgt, tamperRow: -1}

	// A correct migration must validate clean even though the target driver
	// renders every number differently than the source driver does.
	if err := o.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	j, err := st.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != checkpoint.JobCompleted {
		t.Errorf("job status = %s, want completed", j.Status)
	}
}

func TestChecksumCatchesContentDifference(t *testing.T) {
	src := newFakeSource(fixtureCatalog(), fixtureData())
	tgt := newFakeTarget()
	o, st, _ := newTestHarness(t, testConfig(), src, tgt)
	o.tgt = &valuerTarget{fakeTarget: tgt, tamperTable: "PATIENTS", tamperRow: 3}

	err := o.Run(context.Background(), "job-1")
	var vme *ValidationMismatchError
	if !errors.As(err, &vme) {
		t.Fatalf("expected *ValidationMismatchError, got %v", err)
	}
	if vme.Table != "PATIENTS" {
		t.Errorf("mismatch table = %s, want PATIENTS", vme.Table)
	}
	j, _ := st.GetJob("job-1")
	if j.Status != checkpoint.JobFailed {
		t.Errorf("job status = %s, want failed", j.Status)
	}
}
