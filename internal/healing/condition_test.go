package healing

import "testing"

func evalOK(t *testing.T, expr string, state State) bool {
	t.Helper()
	cond, err := parseCondition(expr)
	if err != nil {
		t.Fatalf("parse %q: %v", expr, err)
	}
	got, err := cond.eval(state)
	if err != nil {
		t.Fatalf("eval %q: %v", expr, err)
	}
	return got
}

func TestConditionComparisons(t *testing.T) {
	state := State{"cpu_percent": 92.5, "service": "web", "degraded": true}

	cases := []struct {
		expr string
		want bool
	}{
		{"cpu_percent > 90", true},
		{"cpu_percent >= 92.5", true},
		{"cpu_percent < 90", false},
		{"cpu_percent <= 92.5", true},
		{"cpu_percent == 92.5", true},
		{"cpu_percent != 92.5", false},
		{`service == "web"`, true},
		{`service != "db"`, true},
		{"service == web", true},
		{"degraded == true", true},
		{"degraded != false", true},
	}
	for _, tc := range cases {
		if got := evalOK(t, tc.expr, state); got != tc.want {
			t.Errorf("%q: expected %v, got %v", tc.expr, tc.want, got)
		}
	}
}

func TestConditionBooleanOperators(t *testing.T) {
	state := State{"cpu": 95.0, "mem": 40.0}

	cases := []struct {
		expr string
		want bool
	}{
		{"cpu > 90 AND mem > 50", false},
		{"cpu > 90 OR mem > 50", true},
		{"NOT mem > 50", true},
		{"(cpu > 90 OR mem > 50) AND mem < 45", true},
		{"cpu > 90 and mem < 45", true},
	}
	for _, tc := range cases {
		if got := evalOK(t, tc.expr, state); got != tc.want {
			t.Errorf("%q: expected %v, got %v", tc.expr, tc.want, got)
		}
	}
}

func TestConditionParseErrors(t *testing.T) {
	for _, expr := range []string{
		"",
		"cpu >",
		"> 90",
		"cpu === 90",
		"(cpu > 90",
		`service == "unterminated`,
		"cpu > 90 extra",
	} {
		if _, err := parseCondition(expr); err == nil {
			t.Errorf("expected parse error for %q", expr)
		}
	}
}

func TestConditionEvalErrors(t *testing.T) {
	state := State{"service": "web"}

	cond, err := parseCondition("cpu_percent > 90")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := cond.eval(state); err == nil {
		t.Fatal("expected error for unknown field")
	}

	cond, err = parseCondition("service > 5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := cond.eval(state); err == nil {
		t.Fatal("expected error for type mismatch")
	}
}

func TestConditionShortCircuit(t *testing.T) {
	// The right side references a missing field; short-circuiting must
	// avoid evaluating it.
	state := State{"cpu": 95.0}
	if !evalOK(t, "cpu > 90 OR missing > 1", state) {
		t.Fatal("expected OR to short-circuit")
	}
	if evalOK(t, "cpu < 90 AND missing > 1", state) {
		t.Fatal("expected AND to short-circuit")
	}
}
