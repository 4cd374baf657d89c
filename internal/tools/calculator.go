package tools

import (
	"context"
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/util"
)

// Calculator evaluates arithmetic expressions.
type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() string { return models.ToolCalculator }

func (c *Calculator) Invoke(_ context.Context, args map[string]interface{}) (string, error) {
	expression, err := StringArg(args, "expression")
	if err != nil {
		return "", err
	}
	v, err := Evaluate(expression)
	if err != nil {
		return "", err
	}
	return util.FormatNumber(v), nil
}

// MaxExactInteger is the largest magnitude below which every integer result
// is exact in float64.
const MaxExactInteger = 1 << 53

var calcEnv = map[string]interface{}{
	"sqrt":  math.Sqrt,
	"pow":   math.Pow,
	"abs":   math.Abs,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"mod":   math.Mod,
	"pi":    math.Pi,
}

// floatArithmetic rewrites integer literals to floats so arithmetic never
// wraps at int64, and turns % into math.Mod which accepts floats.
type floatArithmetic struct{}

func (floatArithmetic) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IntegerNode:
		ast.Patch(node, &ast.FloatNode{Value: float64(n.Value)})
	case *ast.BinaryNode:
		if n.Operator == "%" {
			ast.Patch(node, &ast.CallNode{
				Callee:    &ast.IdentifierNode{Value: "mod"},
				Arguments: []ast.Node{n.Left, n.Right},
			})
		}
	}
}

// Evaluate compiles and runs expression in float64 arithmetic. Results
// beyond MaxExactInteger are approximate.
func Evaluate(expression string) (float64, error) {
	program, err := expr.Compile(expression, expr.Env(calcEnv), expr.Patch(floatArithmetic{}))
	if err != nil {
		return 0, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	out, err := expr.Run(program, calcEnv)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	var v float64
	switch n := out.(type) {
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case float64:
		v = n
	default:
		return 0, fmt.Errorf("expression %q produced %T, not a number", expression, out)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("expression %q is not finite", expression)
	}
	return v, nil
}
