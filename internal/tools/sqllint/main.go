// Command sqllint checks that every SQL string constant starts with a
// "--sql <uuid>" audit marker and that no marker is reused. SQLRunner logs
// statements by marker, so a duplicate would make two queries
// indistinguishable in the logs.
package main

import (
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlKeywordPattern = regexp.MustCompile(`(?i)^\s*(--sql\b|select|insert|update|delete|with|create|alter)\b`)
	markerPattern     = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

type marker struct {
	file string
	line int
}

type linter struct {
	violations []violation
	seen       map[string]marker
}

func main() {
	flag.Parse()
	targets := flag.Args()
	if len(targets) == 0 {
		targets = []string{"."}
	}
	os.Exit(run(targets, os.Stderr))
}

func run(targets []string, stderr io.Writer) int {
	l := &linter{seen: map[string]marker{}}
	for _, target := range targets {
		if err := l.lintPath(target); err != nil {
			fmt.Fprintf(stderr, "sqllint: %v\n", err)
			return 1
		}
	}
	if len(l.violations) == 0 {
		return 0
	}
	fmt.Fprintln(stderr, "sqllint: SQL audit marker violations")
	for _, v := range l.violations {
		fmt.Fprintf(stderr, "  %s:%d %s (%s)\n", v.file, v.line, v.message, v.name)
	}
	return 1
}

func (l *linter) lintPath(target string) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if filepath.Ext(target) == ".go" {
			return l.lintFile(target)
		}
		return nil
	}
	return filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != target && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		return l.lintFile(path)
	})
}

func (l *linter) lintFile(path string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range vs.Values {
			bl, ok := value.(*ast.BasicLit)
			if !ok || bl.Kind != token.STRING {
				continue
			}
			raw, err := unquote(bl.Value)
			if err != nil || !sqlKeywordPattern.MatchString(raw) {
				continue
			}
			pos := fset.Position(bl.Pos())
			first := firstLine(raw)
			if !markerPattern.MatchString(first) {
				l.report(path, pos.Line, vs.Names, "missing or invalid --sql <uuid> marker")
				continue
			}
			if prev, dup := l.seen[first]; dup {
				l.report(path, pos.Line, vs.Names, fmt.Sprintf("marker already used at %s:%d", prev.file, prev.line))
				continue
			}
			l.seen[first] = marker{file: path, line: pos.Line}
		}
		return true
	})
	return nil
}

func (l *linter) report(path string, line int, names []*ast.Ident, msg string) {
	l.violations = append(l.violations, violation{file: path, line: line, name: joinNames(names), message: msg})
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
