package sandbox

import (
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// wrapFunctionExpression reports whether source is a single function
// expression and returns it parenthesized so that an anonymous
// function evaluates to itself instead of failing as a declaration.
// Any other source, including text that only parses once parenthesized,
// is left for the engine to compile as a plain script.
func wrapFunctionExpression(source string) (string, bool) {
	wrapped := "(\n" + source + "\n)"
	prog, err := parser.ParseFile(nil, "", wrapped, 0)
	if err != nil || len(prog.Body) != 1 {
		return source, false
	}
	stmt, ok := prog.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return source, false
	}
	switch stmt.Expression.(type) {
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
		return wrapped, true
	default:
		return source, false
	}
}
