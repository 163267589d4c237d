package driver

import (
	"reflect"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		wantErr bool
	}{
		{"simple", "patients", false},
		{"uppercase", "PATIENT_VISITS", false},
		{"underscore start", "_staging", false},
		{"with dollar", "ora$temp", false},
		{"with hash", "queue#1", false},
		{"empty", "", true},
		{"digit start", "1table", true},
		{"semicolon", "x; DROP TABLE y", true},
		{"quote", `pa"tients`, true},
		{"space", "my table", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.ident)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.ident, err, tt.wantErr)
			}
		})
	}
}

func TestTableOrderKey(t *testing.T) {
	withPK := Table{
		Name:       "VISITS",
		Columns:    []Column{{Name: "ID"}, {Name: "PATIENT_ID"}, {Name: "NOTES"}},
		PrimaryKey: []string{"ID"},
	}
	if got := withPK.OrderKey(); !reflect.DeepEqual(got, []string{"ID"}) {
		t.Errorf("OrderKey with PK = %v, want [ID]", got)
	}

	noPK := Table{
		Name:    "AUDIT_TRAIL",
		Columns: []Column{{Name: "TS"}, {Name: "WHO"}},
	}
	if got := noPK.OrderKey(); !reflect.DeepEqual(got, []string{"TS", "WHO"}) {
		t.Errorf("OrderKey without PK = %v, want all columns", got)
	}
}

func TestTableFullNameAndLOBColumns(t *testing.T) {
	tbl := Table{
		Schema: "HOSPITAL", Name: "VISITS",
		Columns: []Column{{Name: "ID", DataType: "NUMBER"}, {Name: "NOTES", DataType: "CLOB"}, {Name: "SCAN", DataType: "BLOB"}},
	}
	if tbl.FullName() != "HOSPITAL.VISITS" {
		t.Errorf("FullName = %q", tbl.FullName())
	}
	lobs := tbl.LOBColumns()
	if len(lobs) != 2 || lobs[0].Name != "NOTES" || lobs[1].Name != "SCAN" {
		t.Errorf("LOBColumns = %+v, want NOTES and SCAN", lobs)
	}
}

func TestColumnIsLOB(t *testing.T) {
	tests := []struct {
		dataType string
		want     bool
	}{
		{"CLOB", true},
		{"BLOB", true},
		{"LONG RAW", true},
		{"clob", true},
		{"VARCHAR2", false},
		{"NUMBER", false},
		{"DATE", false},
	}
	for _, tt := range tests {
		c := Column{Name: "X", DataType: tt.dataType}
		if got := c.IsLOB(); got != tt.want {
			t.Errorf("IsLOB(%s) = %v, want %v", tt.dataType, got, tt.want)
		}
	}
}

func TestGetUnknownDriver(t *testing.T) {
	if _, err := Get("db2"); err == nil {
		t.Error("expected error for unregistered driver")
	}
}
