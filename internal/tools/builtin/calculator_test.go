package builtin

import (
	"context"
	"encoding/json"
	"testing"
)

func TestCalculatorEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2+2", 4},
		{"10 - 3", 7},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"-5 + 2", -3},
		{"7 / 2", 3.5},
		{"1.5 * 2", 3},
	}
	for _, tt := range tests {
		got, err := evaluate(tt.expr)
		if err != nil {
			t.Errorf("evaluate(%q): %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestCalculatorEvaluateErrors(t *testing.T) {
	for _, expr := range []string{"", "2+", "1/0", "(2+3", "abc", "2 & 2"} {
		if _, err := evaluate(expr); err == nil {
			t.Errorf("evaluate(%q) should fail", expr)
		}
	}
}

func TestCalculatorExecute(t *testing.T) {
	c := NewCalculator()
	out, err := c.Execute(context.Background(), json.RawMessage(`{"expression":"2+2"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	var result struct {
		Result float64 `json:"result"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("output %q is not JSON: %v", out, err)
	}
	if result.Result != 4 {
		t.Errorf("result = %v, want 4", result.Result)
	}
}
