// Command lockcheck is a go/analysis-based static checker for the
// SetLevel bracketing convention of synch.cc: a function that calls one
// of the "Locked" helpers (readyToRunLocked, dispatchLocked, and
// friends -- the ones documented as "caller holds mu") is expected to do
// so only from inside a region bracketed by SetLevel(thread.IntOff) /
// SetLevel(old), and every call outside such a region is reported. The
// thread and synch packages of this kernel call those helpers while
// holding Scheduler_t.mu (directly or through Atomic) rather than inside
// a SetLevel bracket, so the checker reports those call sites. It replaces the
// pointer-aliasing analysis golang.org/x/tools/go/pointer would have
// offered (deprecated upstream, see DESIGN.md) with a narrower,
// purpose-built check over the same go/analysis framework.
package main

import (
	"go/ast"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/analysis/singlechecker"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "lockcheck",
	Doc:      "checks that calls to scheduler *Locked helpers happen inside a SetLevel(IntOff)/SetLevel(old) bracket",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func main() {
	singlechecker.Main(Analyzer)
}

func run(pass *analysis.Pass) (interface{}, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{(*ast.FuncDecl)(nil)}
	insp.Preorder(nodeFilter, func(n ast.Node) {
		fn, ok := n.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			return
		}
		checkFunc(pass, fn)
	})

	return nil, nil
}

// checkFunc walks fn's statements in order, tracking whether the
// current position is inside a SetLevel(IntOff)...SetLevel bracket,
// and reports any call to a *Locked method found outside one.
func checkFunc(pass *analysis.Pass, fn *ast.FuncDecl) {
	bracketDepth := 0

	var visit func(ast.Node) bool
	visit = func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}

		switch {
		case sel.Sel.Name == "SetLevel":
			if callArgNamesIntOff(call) {
				bracketDepth++
			} else if bracketDepth > 0 {
				bracketDepth--
			}
		case strings.HasSuffix(sel.Sel.Name, "Locked") && bracketDepth == 0:
			pass.Reportf(call.Pos(), "call to %s outside a SetLevel(thread.IntOff) bracket", sel.Sel.Name)
		}
		return true
	}
	ast.Inspect(fn.Body, visit)
}

// callArgNamesIntOff reports whether call's sole argument textually
// names IntOff, the common case (s.SetLevel(thread.IntOff)). This is a
// syntactic heuristic, not a typed one: a SetLevel call whose argument
// holds IntOff only through a variable is not recognized as entering a
// bracket, so Locked calls after it are reported.
func callArgNamesIntOff(call *ast.CallExpr) bool {
	if len(call.Args) != 1 {
		return false
	}
	switch arg := call.Args[0].(type) {
	case *ast.Ident:
		return arg.Name == "IntOff"
	case *ast.SelectorExpr:
		return arg.Sel.Name == "IntOff"
	}
	return false
}
