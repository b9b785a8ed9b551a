package tool

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/kestrelhq/qaflow/internal/domain"
)

// Calculator evaluates arithmetic expressions in-process. It has no
// external backend and so is always configured (never reports
// a *NeedsConfigurationError).
type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() domain.ToolKind { return domain.ToolCalculator }

// Call parses query as a Go arithmetic expression (+ - * / parens, int and
// float literals) and returns the result as a single Evidence entry.
func (c *Calculator) Call(ctx context.Context, query, target string) ([]domain.Evidence, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	expr, err := parser.ParseExpr(query)
	if err != nil {
		return nil, fmt.Errorf("calculator: invalid expression: %w", err)
	}

	val, err := evalExpr(expr)
	if err != nil {
		return nil, err
	}

	return []domain.Evidence{
		{Text: formatResult(val), Source: "calculator"},
	}, nil
}

func evalExpr(expr ast.Expr) (float64, error) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		switch e.Kind {
		case token.INT, token.FLOAT:
			v, err := strconv.ParseFloat(e.Value, 64)
			if err != nil {
				return 0, fmt.Errorf("calculator: %w", err)
			}
			return v, nil
		default:
			return 0, fmt.Errorf("calculator: unsupported literal %q", e.Value)
		}
	case *ast.ParenExpr:
		return evalExpr(e.X)
	case *ast.UnaryExpr:
		x, err := evalExpr(e.X)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.SUB:
			return -x, nil
		case token.ADD:
			return x, nil
		default:
			return 0, fmt.Errorf("calculator: unsupported unary operator %s", e.Op)
		}
	case *ast.BinaryExpr:
		x, err := evalExpr(e.X)
		if err != nil {
			return 0, err
		}
		y, err := evalExpr(e.Y)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, fmt.Errorf("calculator: division by zero")
			}
			return x / y, nil
		default:
			return 0, fmt.Errorf("calculator: unsupported operator %s", e.Op)
		}
	default:
		return 0, fmt.Errorf("calculator: unsupported expression")
	}
}

func formatResult(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
