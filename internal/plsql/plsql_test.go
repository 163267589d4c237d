package plsql

import (
	"strings"
	"testing"
)

func TestTranslateProcedureFull(t *testing.T) {
	src := `CREATE OR REPLACE PROCEDURE log_visit(p_patient_id NUMBER, p_note VARCHAR2) IS
  v_id NUMBER;
BEGIN
  v_id := visits_seq.NEXTVAL;
  INSERT INTO visits (id, patient_id, note, created_at)
  VALUES (v_id, p_patient_id, NVL(p_note, 'none'), SYSDATE);
END log_visit;`

	res := Translate(src)
	if res.Confidence != Full {
		t.Fatalf("confidence = %s, notes = %v; want full", res.Confidence, res.Notes)
	}
	if res.Source != src {
		t.Error("source must be preserved verbatim")
	}
	for _, want := range []string{
		"LANGUAGE plpgsql",
		"AS $$",
		"nextval('visits_seq')",
		"COALESCE(p_note, 'none')",
		"CURRENT_TIMESTAMP",
		"p_note VARCHAR)",
		"v_id NUMERIC;",
		"DECLARE",
	} {
		if !strings.Contains(res.Target, want) {
			t.Errorf("target missing %q:\n%s", want, res.Target)
		}
	}
	if strings.Contains(res.Target, "END log_visit;") {
		t.Error("trailing END <name>; should become bare END;")
	}
}

func TestTranslateFunctionReturns(t *testing.T) {
	src := `CREATE OR REPLACE FUNCTION visit_count(p_patient_id NUMBER) RETURN NUMBER IS
  v_n NUMBER;
BEGIN
  SELECT COUNT(*) INTO v_n FROM visits WHERE patient_id = p_patient_id;
  RETURN v_n;
END;`

	res := Translate(src)
	if res.Confidence != Full {
		t.Fatalf("confidence = %s, notes = %v; want full", res.Confidence, res.Notes)
	}
	if !strings.Contains(res.Target, "RETURNS NUMERIC") {
		t.Errorf("header should use RETURNS:\n%s", res.Target)
	}
	// RETURN statements inside the body stay as RETURN.
	if !strings.Contains(res.Target, "RETURN v_n;") {
		t.Errorf("body RETURN statement should survive:\n%s", res.Target)
	}
}

func TestTranslateFromDualElision(t *testing.T) {
	src := `CREATE OR REPLACE PROCEDURE p IS
BEGIN
  SELECT SYSDATE INTO v FROM DUAL;
END;`
	res := Translate(src)
	if strings.Contains(strings.ToUpper(res.Target), "DUAL") {
		t.Errorf("FROM DUAL should be elided:\n%s", res.Target)
	}
}

func TestTranslateTriggerPartial(t *testing.T) {
	src := `CREATE OR REPLACE TRIGGER visits_audit
BEFORE INSERT ON visits
FOR EACH ROW
BEGIN
  :NEW.created_at := SYSDATE;
END;`

	res := Translate(src)
	if res.Confidence != Partial {
		t.Fatalf("confidence = %s, want partial", res.Confidence)
	}
	if !strings.Contains(res.Target, "NEW.created_at") {
		t.Errorf(":NEW should become NEW:\n%s", res.Target)
	}
	if len(res.Notes) == 0 {
		t.Error("trigger translation must carry a review note")
	}
}

func TestTranslateUnsupported(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"autonomous transaction", `CREATE PROCEDURE p IS
PRAGMA AUTONOMOUS_TRANSACTION;
BEGIN NULL; END;`},
		{"bulk collect", `CREATE PROCEDURE p IS
BEGIN
  SELECT id BULK COLLECT INTO v_ids FROM t;
END;`},
		{"supplied package", `CREATE PROCEDURE p IS
BEGIN
  DBMS_SCHEDULER.CREATE_JOB(job_name => 'x');
END;`},
		{"not a definition", `BEGIN NULL; END;`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Translate(tt.src)
			if res.Confidence != Unsupported {
				t.Fatalf("confidence = %s, want unsupported", res.Confidence)
			}
			if res.Target != "" {
				t.Error("unsupported result must not produce a target definition")
			}
			if res.Source != tt.src {
				t.Error("source must be preserved verbatim")
			}
			if len(res.Notes) == 0 {
				t.Error("unsupported result must explain itself")
			}
		})
	}
}

func TestTranslatePartialConstructs(t *testing.T) {
	src := `CREATE OR REPLACE PROCEDURE p(p_id visits.id%TYPE) IS
BEGIN
  EXECUTE IMMEDIATE 'TRUNCATE TABLE staging';
END;`
	res := Translate(src)
	if res.Confidence != Partial {
		t.Fatalf("confidence = %s, want partial", res.Confidence)
	}
	if !strings.Contains(res.Target, "EXECUTE 'TRUNCATE") {
		t.Errorf("EXECUTE IMMEDIATE should be rewritten:\n%s", res.Target)
	}
	if len(res.Notes) < 2 {
		t.Errorf("expected notes for %%TYPE and EXECUTE IMMEDIATE, got %v", res.Notes)
	}
}

func TestTranslatePutLine(t *testing.T) {
	src := `CREATE PROCEDURE p IS
BEGIN
  DBMS_OUTPUT.PUT_LINE('done');
END;`
	res := Translate(src)
	if res.Confidence != Full {
		t.Fatalf("confidence = %s, notes = %v; want full", res.Confidence, res.Notes)
	}
	if !strings.Contains(res.Target, "RAISE NOTICE '%', ('done');") {
		t.Errorf("PUT_LINE should become RAISE NOTICE:\n%s", res.Target)
	}
}

func TestConfidenceString(t *testing.T) {
	if Full.String() != "full" || Partial.String() != "partial" || Unsupported.String() != "unsupported" {
		t.Error("Confidence String mismatch")
	}
}
