package engine

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

const (
	langTypeScript = "typescript"
	langTSX        = "tsx"
	langJavaScript = "javascript"
)

// languageFor maps a file name onto a grammar.
func languageFor(p string) (string, *sitter.Language) {
	switch {
	case strings.HasSuffix(p, ".tsx"):
		return langTSX, tsx.GetLanguage()
	case strings.HasSuffix(p, ".ts"), strings.HasSuffix(p, ".mts"), strings.HasSuffix(p, ".cts"):
		return langTypeScript, ts.GetLanguage()
	}
	return langJavaScript, javascript.GetLanguage()
}

func isDeclarationFile(p string) bool {
	return strings.HasSuffix(p, ".d.ts") || strings.HasSuffix(p, ".d.mts") || strings.HasSuffix(p, ".d.cts")
}

// compileSource parses src and returns its emitted JavaScript along with any
// syntax diagnostics. Each call uses its own parser, so calls may run
// concurrently.
func compileSource(ctx context.Context, p string, src []byte) (string, []Diagnostic, error) {
	lang, grammar := languageFor(p)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return "", nil, fmt.Errorf("parse %s: %w", p, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	diags := syntaxDiagnostics(root, p)

	if lang == langJavaScript || isDeclarationFile(p) {
		return string(src), diags, nil
	}
	return stripTypes(root, src), diags, nil
}

// syntaxDiagnostics reports every missing token and every error node. The
// contents of an error node are not searched further.
func syntaxDiagnostics(root *sitter.Node, file string) []Diagnostic {
	if !root.HasError() {
		return nil
	}
	var diags []Diagnostic
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case n.IsMissing():
			diags = append(diags, diagnosticAt(n, file, 1005, fmt.Sprintf("'%s' expected.", n.Type())))
			continue
		case n.Type() == "ERROR":
			diags = append(diags, diagnosticAt(n, file, 1128, "Declaration or statement expected."))
			continue
		case !n.HasError():
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			if child := n.Child(i); child != nil {
				stack = append(stack, child)
			}
		}
	}
	return diags
}

func diagnosticAt(n *sitter.Node, file string, code int, msg string) Diagnostic {
	start := n.StartPoint()
	return Diagnostic{
		Code:     code,
		Category: CategoryError,
		Message:  msg,
		File:     file,
		Line:     int(start.Row) + 1,
		Column:   int(start.Column) + 1,
		Length:   int(n.EndByte() - n.StartByte()),
	}
}

// Transpile compiles one source file on its own, without a project. name
// selects the grammar by extension.
func Transpile(ctx context.Context, name string, src []byte) (string, []Diagnostic, error) {
	return compileSource(ctx, name, src)
}
