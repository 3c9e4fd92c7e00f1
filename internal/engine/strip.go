package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// edit replaces src[start:end] with text.
type edit struct {
	start, end uint32
	text       string
}

// Nodes removed outright wherever they appear.
var erasedNodes = map[string]bool{
	"type_annotation":           true,
	"type_predicate_annotation": true,
	"asserts_annotation":        true,
	"type_parameters":           true,
	"type_arguments":            true,
	"implements_clause":         true,
	"accessibility_modifier":    true,
	"override_modifier":         true,
}

// Statements with no runtime meaning.
var erasedStatements = map[string]bool{
	"interface_declaration":     true,
	"type_alias_declaration":    true,
	"ambient_declaration":       true,
	"function_signature":        true,
	"abstract_method_signature": true,
	"index_signature":           true,
}

// Modifier tokens dropped from the node that carries them.
var erasedTokens = map[string]map[string]bool{
	"optional_parameter":         {"?": true},
	"public_field_definition":    {"readonly": true, "declare": true, "abstract": true, "?": true, "!": true},
	"abstract_class_declaration": {"abstract": true},
	"method_definition":          {"?": true},
}

// stripTypes returns src with TypeScript-only syntax removed. Enums are
// rewritten to the usual object-building IIFE.
func stripTypes(root *sitter.Node, src []byte) string {
	var edits []edit
	collectEdits(root, src, &edits)
	return applyEdits(src, edits)
}

func collectEdits(n *sitter.Node, src []byte, edits *[]edit) {
	typ := n.Type()
	switch {
	case erasedNodes[typ]:
		start, end := n.StartByte(), n.EndByte()
		switch typ {
		case "implements_clause":
			start = leadingSpace(src, start)
		case "accessibility_modifier", "override_modifier":
			end = trailingSpace(src, end)
		}
		*edits = append(*edits, edit{start: start, end: end})
		return
	case erasedStatements[typ]:
		*edits = append(*edits, statementEdit(n, src))
		return
	case typ == "import_statement" && hasToken(n, "type"):
		*edits = append(*edits, statementEdit(n, src))
		return
	case typ == "export_statement" && isTypeOnlyExport(n):
		*edits = append(*edits, statementEdit(n, src))
		return
	case typ == "as_expression" || typ == "satisfies_expression":
		if n.ChildCount() > 0 {
			expr := n.Child(0)
			*edits = append(*edits, edit{start: expr.EndByte(), end: n.EndByte()})
			collectEdits(expr, src, edits)
		}
		return
	case typ == "non_null_expression":
		if c := int(n.ChildCount()); c > 1 {
			bang := n.Child(c - 1)
			*edits = append(*edits, edit{start: bang.StartByte(), end: bang.EndByte()})
			collectEdits(n.Child(0), src, edits)
		}
		return
	case typ == "enum_declaration":
		*edits = append(*edits, edit{start: n.StartByte(), end: n.EndByte(), text: enumJS(n, src)})
		return
	}

	tokens := erasedTokens[typ]
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if tokens != nil && !child.IsNamed() && tokens[child.Type()] {
			*edits = append(*edits, edit{start: child.StartByte(), end: trailingSpace(src, child.EndByte())})
			continue
		}
		collectEdits(child, src, edits)
	}
}

func hasToken(n *sitter.Node, token string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c != nil && !c.IsNamed() && c.Type() == token {
			return true
		}
	}
	return false
}

// isTypeOnlyExport matches `export type {...}`, `export interface ...` and
// friends.
func isTypeOnlyExport(n *sitter.Node) bool {
	if hasToken(n, "type") {
		return true
	}
	decl := n.ChildByFieldName("declaration")
	return decl != nil && erasedStatements[decl.Type()]
}

// statementEdit removes a whole statement, taking its line with it when the
// statement is alone on that line.
func statementEdit(n *sitter.Node, src []byte) edit {
	start, end := n.StartByte(), n.EndByte()

	lineStart := start
	for lineStart > 0 && (src[lineStart-1] == ' ' || src[lineStart-1] == '\t') {
		lineStart--
	}
	if lineStart > 0 && src[lineStart-1] != '\n' {
		return edit{start: start, end: end}
	}

	lineEnd := end
	for int(lineEnd) < len(src) && (src[lineEnd] == ' ' || src[lineEnd] == '\t' || src[lineEnd] == ';') {
		lineEnd++
	}
	if int(lineEnd) < len(src) && src[lineEnd] == '\r' {
		lineEnd++
	}
	if int(lineEnd) < len(src) && src[lineEnd] == '\n' {
		return edit{start: lineStart, end: lineEnd + 1}
	}
	if int(lineEnd) == len(src) {
		return edit{start: lineStart, end: lineEnd}
	}
	return edit{start: start, end: end}
}

func leadingSpace(src []byte, i uint32) uint32 {
	for i > 0 && src[i-1] == ' ' {
		i--
	}
	return i
}

func trailingSpace(src []byte, i uint32) uint32 {
	for int(i) < len(src) && src[i] == ' ' {
		i++
	}
	return i
}

// applyEdits applies non-overlapping edits in source order. An edit that
// starts inside an earlier one is dropped.
func applyEdits(src []byte, edits []edit) string {
	if len(edits) == 0 {
		return string(src)
	}
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].start != edits[j].start {
			return edits[i].start < edits[j].start
		}
		return edits[i].end > edits[j].end
	})

	var b strings.Builder
	b.Grow(len(src))
	var cursor uint32
	for _, e := range edits {
		if e.start < cursor {
			continue
		}
		b.Write(src[cursor:e.start])
		b.WriteString(e.text)
		cursor = e.end
	}
	b.Write(src[cursor:])
	return b.String()
}

// enumJS renders an enum declaration as JavaScript:
//
//	var E;
//	(function (E) {
//	    E[E["A"] = 0] = "A";
//	})(E || (E = {}));
func enumJS(n *sitter.Node, src []byte) string {
	nameNode := n.ChildByFieldName("name")
	body := n.ChildByFieldName("body")
	if nameNode == nil || body == nil {
		return ""
	}
	name := nameNode.Content(src)

	var b strings.Builder
	fmt.Fprintf(&b, "var %s;\n(function (%s) {\n", name, name)

	var next int64
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		var key, value string
		switch member.Type() {
		case "enum_assignment":
			key = enumKey(member.ChildByFieldName("name"), src)
			v := member.ChildByFieldName("value")
			if v == nil {
				continue
			}
			value = v.Content(src)
			switch v.Type() {
			case "number":
				if parsed, err := strconv.ParseInt(value, 0, 64); err == nil {
					next = parsed + 1
				}
			case "string", "template_string":
				// String members get no reverse mapping.
				fmt.Fprintf(&b, "    %s[%s] = %s;\n", name, key, value)
				continue
			}
		case "property_identifier", "string", "number":
			key = enumKey(member, src)
			value = strconv.FormatInt(next, 10)
			next++
		default:
			continue
		}
		fmt.Fprintf(&b, "    %s[%s[%s] = %s] = %s;\n", name, name, key, value, key)
	}
	fmt.Fprintf(&b, "})(%s || (%s = {}));", name, name)
	return b.String()
}

func enumKey(n *sitter.Node, src []byte) string {
	if n == nil {
		return `""`
	}
	text := n.Content(src)
	if n.Type() == "string" {
		return text
	}
	return strconv.Quote(text)
}
