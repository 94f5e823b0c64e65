package main

import (
	"bufio"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gear6io/replicant/pkg/errors"
)

// CodeInfo is one errors.MustNewCode declaration
type CodeInfo struct {
	Name    string
	Value   string
	File    string
	Line    int
	Package string
	UsedIn  []string
}

// Checker collects code declarations and their uses across a tree
type Checker struct {
	fset    *token.FileSet
	codes   map[string]*CodeInfo // keyed by package.Name
	uses    map[string][]string  // identifier -> files referencing it
	files   []string
	verbose bool
}

func NewChecker(verbose bool) *Checker {
	return &Checker{
		fset:    token.NewFileSet(),
		codes:   make(map[string]*CodeInfo),
		uses:    make(map[string][]string),
		verbose: verbose,
	}
}

func (c *Checker) debug(format string, args ...interface{}) {
	if c.verbose {
		fmt.Printf("[debug] "+format+"\n", args...)
	}
}

func excluded(path string, excludePaths []string) bool {
	slashed := filepath.ToSlash(path)
	for _, ex := range excludePaths {
		if strings.Contains(slashed+"/", ex) {
			return true
		}
	}
	return false
}

// CheckDirectory parses every Go file under dir outside the excluded paths
func (c *Checker) CheckDirectory(dir string, excludePaths []string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && excluded(path, excludePaths) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || excluded(path, excludePaths) {
			return nil
		}
		return c.CheckFile(path)
	})
}

// CheckFile records the declarations and identifier uses of one file
func (c *Checker) CheckFile(path string) error {
	file, err := parser.ParseFile(c.fset, path, nil, 0)
	if err != nil {
		return errors.New(ErrParseSource, "failed to parse Go file", err).AddContext("file", path)
	}
	c.files = append(c.files, path)
	c.debug("parsed %s", path)

	pkg := file.Name.Name
	declared := make(map[*ast.Ident]bool)

	ast.Inspect(file, func(n ast.Node) bool {
		spec, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for i, name := range spec.Names {
			if i >= len(spec.Values) {
				break
			}
			value, ok := mustNewCodeArg(spec.Values[i])
			if !ok {
				continue
			}
			declared[name] = true
			c.codes[pkg+"."+name.Name] = &CodeInfo{
				Name:    name.Name,
				Value:   value,
				File:    path,
				Line:    c.fset.Position(name.Pos()).Line,
				Package: pkg,
			}
		}
		return true
	})

	ast.Inspect(file, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.SelectorExpr:
			c.uses[x.Sel.Name] = append(c.uses[x.Sel.Name], path)
		case *ast.Ident:
			if !declared[x] {
				c.uses[x.Name] = append(c.uses[x.Name], path)
			}
		}
		return true
	})
	return nil
}

// mustNewCodeArg matches errors.MustNewCode("literal")
func mustNewCodeArg(expr ast.Expr) (string, bool) {
	call, ok := expr.(*ast.CallExpr)
	if !ok || len(call.Args) != 1 {
		return "", false
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "MustNewCode" {
		return "", false
	}
	lit, ok := call.Args[0].(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	value, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return value, true
}

// Codes returns the declarations ordered by file and line, with uses filled in
func (c *Checker) Codes() []*CodeInfo {
	out := make([]*CodeInfo, 0, len(c.codes))
	for _, info := range c.codes {
		info.UsedIn = unique(c.uses[info.Name])
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].File != out[j].File {
			return out[i].File < out[j].File
		}
		return out[i].Line < out[j].Line
	})
	return out
}

// Unused lists codes nothing references
func (c *Checker) Unused() []*CodeInfo {
	var out []*CodeInfo
	for _, info := range c.Codes() {
		if len(info.UsedIn) == 0 {
			out = append(out, info)
		}
	}
	return out
}

// Invalid lists codes pkg/errors would refuse, with the reason
func (c *Checker) Invalid() map[*CodeInfo]error {
	out := make(map[*CodeInfo]error)
	for _, info := range c.Codes() {
		if _, err := errors.NewCode(info.Value); err != nil {
			out[info] = err
		}
	}
	return out
}

// Duplicates groups declarations sharing one code string
func (c *Checker) Duplicates() map[string][]*CodeInfo {
	byValue := make(map[string][]*CodeInfo)
	for _, info := range c.Codes() {
		byValue[info.Value] = append(byValue[info.Value], info)
	}
	for value, infos := range byValue {
		if len(infos) < 2 {
			delete(byValue, value)
		}
	}
	return byValue
}

// Violation is one forbidden pattern found in a non-test file
type Violation struct {
	File    string
	Line    int
	Pattern string
	Text    string
}

// Forbidden scans the parsed non-test files for the given patterns
func (c *Checker) Forbidden(patterns []string) ([]Violation, error) {
	regexes := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		regexes = append(regexes, re)
	}

	var out []Violation
	for _, path := range c.files {
		if strings.HasSuffix(path, "_test.go") {
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		scanner := bufio.NewScanner(f)
		for line := 1; scanner.Scan(); line++ {
			text := scanner.Text()
			for _, re := range regexes {
				if re.MatchString(text) {
					out = append(out, Violation{File: path, Line: line, Pattern: re.String(), Text: strings.TrimSpace(text)})
				}
			}
		}
		f.Close()
	}
	return out, nil
}

func unique(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}
