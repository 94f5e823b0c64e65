// Command errorcode-checker audits errors.MustNewCode declarations: every
// code must be well formed, unique and referenced somewhere, and plain
// fmt.Errorf construction is reported outside tests.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
)

func main() {
	var (
		dir        = flag.String("dir", ".", "root directory to scan")
		configPath = flag.String("config", "", "path to YAML config")
		verbose    = flag.Bool("verbose", false, "print every parsed file")
	)
	flag.Parse()

	config, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	checker := NewChecker(*verbose || config.Verbose)
	if err := checker.CheckDirectory(*dir, config.ExcludePaths); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	failed := report(checker, config)
	if failed {
		os.Exit(1)
	}
}

func report(checker *Checker, config *Config) bool {
	failed := false
	codes := checker.Codes()
	fmt.Printf("Found %d error codes in %d files\n", len(codes), len(checker.files))

	invalid := checker.Invalid()
	for info, err := range invalid {
		fmt.Printf("INVALID %s:%d %s = %q: %v\n", info.File, info.Line, info.Name, info.Value, err)
		failed = true
	}

	dups := checker.Duplicates()
	values := make([]string, 0, len(dups))
	for value := range dups {
		values = append(values, value)
	}
	sort.Strings(values)
	for _, value := range values {
		fmt.Printf("DUPLICATE %q declared %d times\n", value, len(dups[value]))
		for _, info := range dups[value] {
			fmt.Printf("  %s:%d %s\n", info.File, info.Line, info.Name)
		}
		failed = true
	}

	for _, info := range checker.Unused() {
		fmt.Printf("UNUSED %s:%d %s (%s)\n", info.File, info.Line, info.Name, info.Value)
		if config.ExitOnUnused {
			failed = true
		}
	}

	if config.CheckForbidden {
		violations, err := checker.Forbidden(config.ForbiddenPatterns)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return true
		}
		for _, v := range violations {
			fmt.Printf("FORBIDDEN %s:%d %s\n", v.File, v.Line, v.Text)
		}
		if len(violations) > 0 && config.ExitOnForbidden {
			failed = true
		}
	}

	return failed
}
