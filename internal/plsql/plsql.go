// Package plsql performs best-effort translation of Oracle PL/SQL stored
// procedures, functions and triggers into PL/pgSQL. The outcome is a tagged
// variant: Full when every construct was rewritten, Partial when the output
// needs human review, Unsupported when no usable target could be produced.
// Source text is always preserved so nothing is silently dropped.
package plsql

import (
	"fmt"
	"regexp"
	"strings"
)

// Confidence classifies how trustworthy a translation is.
type Confidence int

const (
	// Unsupported means no target definition was produced; the source is
	// preserved verbatim for manual porting.
	Unsupported Confidence = iota
	// Partial means a target was produced but contains constructs that
	// need review before use.
	Partial
	// Full means every recognized construct was rewritten cleanly.
	Full
)

func (c Confidence) String() string {
	switch c {
	case Full:
		return "full"
	case Partial:
		return "partial"
	default:
		return "unsupported"
	}
}

// Result is the outcome of translating one procedural object.
type Result struct {
	Source     string
	Target     string
	Confidence Confidence
	Notes      []string
}

var (
	headerRe      = regexp.MustCompile(`(?is)^\s*CREATE\s+(?:OR\s+REPLACE\s+)?(PROCEDURE|FUNCTION|TRIGGER)\s+("?[\w$#]+"?(?:\."?[\w$#]+"?)?)`)
	separatorRe   = regexp.MustCompile(`(?i)\b(IS|AS)\b`)
	triggerBodyRe = regexp.MustCompile(`(?i)\b(DECLARE|BEGIN)\b`)
	beginRe     = regexp.MustCompile(`(?i)\bBEGIN\b`)
	endNameRe   = regexp.MustCompile(`(?is)\bEND\s+[\w$#"]+\s*;\s*$`)
	returnRe    = regexp.MustCompile(`(?i)\bRETURN\b`)

	nvlRe       = regexp.MustCompile(`(?i)\bNVL\s*\(`)
	sysdateRe   = regexp.MustCompile(`(?i)\bSYS(?:DATE|TIMESTAMP)\b`)
	nextvalRe   = regexp.MustCompile(`(?i)\b([\w$#]+)\.NEXTVAL\b`)
	currvalRe   = regexp.MustCompile(`(?i)\b([\w$#]+)\.CURRVAL\b`)
	varchar2Re  = regexp.MustCompile(`(?i)\bN?VARCHAR2\b`)
	numberRe    = regexp.MustCompile(`(?i)\bNUMBER\b`)
	plsIntRe    = regexp.MustCompile(`(?i)\b(?:PLS_INTEGER|BINARY_INTEGER)\b`)
	fromDualRe  = regexp.MustCompile(`(?i)\s+FROM\s+DUAL\b`)
	putLineRe   = regexp.MustCompile(`(?i)\bDBMS_OUTPUT\.PUT_LINE\s*\(`)
	bindColonRe = regexp.MustCompile(`(?i):((?:NEW|OLD)\b)`)

	typeAttrRe = regexp.MustCompile(`(?i)%(?:TYPE|ROWTYPE)\b`)
	execImmRe  = regexp.MustCompile(`(?i)\bEXECUTE\s+IMMEDIATE\b`)
)

// unsupportedConstructs have no mechanical PL/pgSQL equivalent. Matching any
// of them aborts translation for the whole object.
var unsupportedConstructs = []struct {
	re   *regexp.Regexp
	note string
}{
	{regexp.MustCompile(`(?i)\bPRAGMA\s+AUTONOMOUS_TRANSACTION\b`), "autonomous transactions have no PL/pgSQL equivalent"},
	{regexp.MustCompile(`(?i)\bBULK\s+COLLECT\b`), "BULK COLLECT requires a manual rewrite (array_agg or cursor loop)"},
	{regexp.MustCompile(`(?i)\bFORALL\b`), "FORALL bulk binding requires a manual rewrite"},
	{regexp.MustCompile(`(?i)\bCONNECT\s+BY\b`), "CONNECT BY hierarchies require a recursive CTE rewrite"},
	{regexp.MustCompile(`(?i)\bGOTO\b`), "GOTO is not available in PL/pgSQL"},
}

// suppliedPkgRe matches calls into Oracle supplied packages. DBMS_OUTPUT is
// handled separately because PUT_LINE rewrites to RAISE NOTICE.
var suppliedPkgRe = regexp.MustCompile(`(?i)\b(?:DBMS|UTL)_\w+`)

// Translate converts one PL/SQL object definition into PL/pgSQL.
// It never returns an error: failure modes are expressed through Confidence.
func Translate(src string) Result {
	res := Result{Source: src}

	hdr := headerRe.FindStringSubmatch(src)
	if hdr == nil {
		res.Notes = append(res.Notes, "not a CREATE PROCEDURE/FUNCTION/TRIGGER definition")
		return res
	}
	objKind := strings.ToUpper(hdr[1])

	for _, uc := range unsupportedConstructs {
		if m := uc.re.FindString(src); m != "" {
			res.Notes = append(res.Notes, fmt.Sprintf("%s: %s", strings.TrimSpace(m), uc.note))
		}
	}
	for _, m := range suppliedPkgRe.FindAllString(src, -1) {
		if strings.EqualFold(m, "DBMS_OUTPUT") {
			continue
		}
		res.Notes = append(res.Notes, fmt.Sprintf("%s: call into an Oracle supplied package", m))
		break
	}
	if len(res.Notes) > 0 {
		return res
	}

	// Split the definition at the IS/AS that separates the signature from
	// the declaration section. For functions the separator comes after the
	// RETURN clause, so search from the end of the matched header onward.
	// Trigger bodies start directly at DECLARE or BEGIN.
	var sepStart, sepEnd int
	if objKind == "TRIGGER" {
		loc := triggerBodyRe.FindStringIndex(src)
		if loc == nil {
			res.Notes = append(res.Notes, "could not locate trigger body")
			return res
		}
		sepStart, sepEnd = loc[0], loc[0]
	} else {
		loc := separatorRe.FindStringIndex(src[len(hdr[0]):])
		if loc == nil {
			res.Notes = append(res.Notes, "could not locate IS/AS body separator")
			return res
		}
		sepStart = len(hdr[0]) + loc[0]
		sepEnd = len(hdr[0]) + loc[1]
	}

	head := strings.TrimSpace(src[:sepStart])
	body := strings.TrimSpace(src[sepEnd:])

	if objKind == "FUNCTION" {
		head = returnRe.ReplaceAllString(head, "RETURNS")
	}
	if typeAttrRe.MatchString(src) {
		res.Notes = append(res.Notes, "%TYPE/%ROWTYPE attributes retained; verify referenced tables exist on the target")
	}
	head = rewriteTypes(head)
	body = rewriteBody(body, &res)

	// Oracle allows END <name>; PL/pgSQL expects a bare END;.
	body = endNameRe.ReplaceAllString(body, "END;")

	// Declarations between IS/AS and BEGIN need an explicit DECLARE.
	if loc := beginRe.FindStringIndex(body); loc != nil && strings.TrimSpace(body[:loc[0]]) != "" {
		if !strings.HasPrefix(strings.ToUpper(body), "DECLARE") {
			body = "DECLARE\n" + body
		}
	}

	switch objKind {
	case "TRIGGER":
		res.Notes = append(res.Notes, "PostgreSQL triggers need a separate trigger function plus CREATE TRIGGER; generated body requires wiring")
		res.Target = fmt.Sprintf("%s\nLANGUAGE plpgsql\nAS $$\n%s\n$$;", head, body)
		res.Confidence = Partial
	default:
		res.Target = fmt.Sprintf("%s\nLANGUAGE plpgsql\nAS $$\n%s\n$$;", head, body)
		if len(res.Notes) > 0 {
			res.Confidence = Partial
		} else {
			res.Confidence = Full
		}
	}
	return res
}

// rewriteTypes maps Oracle datatype names appearing in signatures and
// declarations onto PostgreSQL names.
func rewriteTypes(s string) string {
	s = varchar2Re.ReplaceAllString(s, "VARCHAR")
	s = numberRe.ReplaceAllString(s, "NUMERIC")
	s = plsIntRe.ReplaceAllString(s, "INTEGER")
	return s
}

func rewriteBody(body string, res *Result) string {
	body = rewriteTypes(body)
	body = nvlRe.ReplaceAllString(body, "COALESCE(")
	body = sysdateRe.ReplaceAllString(body, "CURRENT_TIMESTAMP")
	body = nextvalRe.ReplaceAllStringFunc(body, func(m string) string {
		seq := strings.ToLower(strings.TrimSuffix(strings.ToUpper(m), ".NEXTVAL"))
		return fmt.Sprintf("nextval('%s')", seq)
	})
	body = currvalRe.ReplaceAllStringFunc(body, func(m string) string {
		seq := strings.ToLower(strings.TrimSuffix(strings.ToUpper(m), ".CURRVAL"))
		return fmt.Sprintf("currval('%s')", seq)
	})
	body = fromDualRe.ReplaceAllString(body, "")
	body = putLineRe.ReplaceAllString(body, "RAISE NOTICE '%', (")
	body = bindColonRe.ReplaceAllString(body, "$1")

	if execImmRe.MatchString(body) {
		body = execImmRe.ReplaceAllString(body, "EXECUTE")
		res.Notes = append(res.Notes, "EXECUTE IMMEDIATE rewritten to EXECUTE; dynamic SQL dialect not checked")
	}
	return body
}
