package tool

import (
	"context"
	"testing"
)

func TestCalculatorEvaluatesArithmetic(t *testing.T) {
	c := NewCalculator()

	cases := map[string]string{
		"1 + 2":        "3",
		"(2 + 3) * 4":  "20",
		"10 / 4":       "2.5",
		"-3 + 5":       "2",
	}
	for expr, want := range cases {
		evidence, err := c.Call(context.Background(), expr, "")
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", expr, err)
		}
		if len(evidence) != 1 || evidence[0].Text != want {
			t.Errorf("%q: expected %q, got %+v", expr, want, evidence)
		}
	}
}

func TestCalculatorRejectsDivisionByZero(t *testing.T) {
	c := NewCalculator()

	_, err := c.Call(context.Background(), "1 / 0", "")
	if err == nil {
		t.Fatal("expected a division-by-zero error")
	}
}

func TestCalculatorRejectsInvalidExpression(t *testing.T) {
	c := NewCalculator()

	_, err := c.Call(context.Background(), "not an expression +", "")
	if err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestCalculatorRejectsUnsupportedOperator(t *testing.T) {
	c := NewCalculator()

	_, err := c.Call(context.Background(), "x + 1", "")
	if err == nil {
		t.Fatal("expected an error for a non-literal operand")
	}
}
