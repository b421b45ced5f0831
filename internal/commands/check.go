package commands

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validation subcommands",
	}
	cmd.AddCommand(newCheckComplexityCmd())
	cmd.AddCommand(newCheckVerifyCmd())
	cmd.AddCommand(newCheckPlanCmd())
	return cmd
}

var sourceExtensions = map[string]bool{
	".go": true, ".rs": true, ".ts": true, ".tsx": true,
	".js": true, ".jsx": true, ".py": true,
}

var skippedDirs = map[string]bool{
	".git": true, "node_modules": true, "target": true,
	"vendor": true, "dist": true, ".worktrees": true,
}

// ComplexityViolation is one budget overrun found by check complexity.
type ComplexityViolation struct {
	File    string `json:"file"`
	Kind    string `json:"kind"` // file_lines | function_lines | total_lines
	Line    int    `json:"line,omitempty"`
	Actual  int    `json:"actual"`
	Allowed int    `json:"allowed"`
}

func newCheckComplexityCmd() *cobra.Command {
	var (
		cwd              string
		maxFileLines     int
		maxTotalLines    int
		maxFunctionLines int
	)

	cmd := &cobra.Command{
		Use:   "complexity",
		Short: "Check complexity against budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			violations, totalLines, err := checkComplexity(cwd, maxFileLines, maxTotalLines, maxFunctionLines)
			if err != nil {
				return err
			}
			if err := printJSON(map[string]any{
				"ok":          len(violations) == 0,
				"total_lines": totalLines,
				"violations":  violations,
			}); err != nil {
				return err
			}
			if len(violations) > 0 {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory")
	cmd.Flags().IntVar(&maxFileLines, "max-file-lines", 400, "max lines per file")
	cmd.Flags().IntVar(&maxTotalLines, "max-total-lines", 2000, "max total implementation lines")
	cmd.Flags().IntVar(&maxFunctionLines, "max-function-lines", 50, "max lines per function")
	cmd.MarkFlagRequired("cwd")
	return cmd
}

func checkComplexity(cwd string, maxFileLines, maxTotalLines, maxFunctionLines int) ([]ComplexityViolation, int, error) {
	var violations []ComplexityViolation
	totalLines := 0

	err := filepath.WalkDir(cwd, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] {
			return nil
		}
		// Test files do not count against the implementation budget.
		if strings.Contains(d.Name(), "_test.") || strings.HasSuffix(d.Name(), ".test.ts") {
			return nil
		}

		rel, _ := filepath.Rel(cwd, path)
		lines, funcViolations, err := scanSourceFile(path, maxFunctionLines)
		if err != nil {
			return err
		}
		totalLines += lines

		if lines > maxFileLines {
			violations = append(violations, ComplexityViolation{
				File: rel, Kind: "file_lines", Actual: lines, Allowed: maxFileLines,
			})
		}
		for _, fv := range funcViolations {
			fv.File = rel
			violations = append(violations, fv)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if totalLines > maxTotalLines {
		violations = append(violations, ComplexityViolation{
			File: ".", Kind: "total_lines", Actual: totalLines, Allowed: maxTotalLines,
		})
	}
	return violations, totalLines, nil
}

// scanSourceFile counts lines and flags over-long functions. Function
// starts are recognized by common definition keywords; a function is
// considered to run until the next definition at the same file.
func scanSourceFile(path string, maxFunctionLines int) (int, []ComplexityViolation, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer file.Close()

	var violations []ComplexityViolation
	lineCount := 0
	funcStart := 0

	flush := func(endLine int) {
		if funcStart == 0 {
			return
		}
		length := endLine - funcStart
		if length > maxFunctionLines {
			violations = append(violations, ComplexityViolation{
				Kind: "function_lines", Line: funcStart, Actual: length, Allowed: maxFunctionLines,
			})
		}
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		lineCount++
		trimmed := strings.TrimSpace(scanner.Text())
		if isFunctionStart(trimmed) {
			flush(lineCount)
			funcStart = lineCount
		}
	}
	flush(lineCount + 1)

	if err := scanner.Err(); err != nil {
		return 0, nil, err
	}
	return lineCount, violations, nil
}

func isFunctionStart(line string) bool {
	for _, prefix := range []string{"func ", "fn ", "def ", "function ", "export function ", "async function "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// VerifyStep is one test/lint command run by check verify.
type VerifyStep struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	Passed  bool   `json:"passed"`
	Output  string `json:"output,omitempty"`
}

func newCheckVerifyCmd() *cobra.Command {
	var cwd string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run test and lint verification",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := verifySteps(cwd)
			if len(steps) == 0 {
				return printJSON(map[string]any{"ok": true, "steps": []VerifyStep{}, "note": "no recognized project type"})
			}

			allPassed := true
			for i := range steps {
				parts := strings.Fields(steps[i].Command)
				run := exec.Command(parts[0], parts[1:]...)
				run.Dir = cwd
				out, err := run.CombinedOutput()
				steps[i].Passed = err == nil
				if err != nil {
					allPassed = false
					steps[i].Output = tail(string(out), 2000)
				}
			}

			if err := printJSON(map[string]any{"ok": allPassed, "steps": steps}); err != nil {
				return err
			}
			if !allPassed {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory")
	cmd.MarkFlagRequired("cwd")
	return cmd
}

// verifySteps picks test commands by the project markers present.
func verifySteps(cwd string) []VerifyStep {
	var steps []VerifyStep
	if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
		steps = append(steps,
			VerifyStep{Name: "go-test", Command: "go test ./..."},
			VerifyStep{Name: "go-vet", Command: "go vet ./..."},
		)
	}
	if _, err := os.Stat(filepath.Join(cwd, "Cargo.toml")); err == nil {
		steps = append(steps, VerifyStep{Name: "cargo-test", Command: "cargo test"})
	}
	if _, err := os.Stat(filepath.Join(cwd, "package.json")); err == nil {
		steps = append(steps, VerifyStep{Name: "npm-test", Command: "npm test"})
	}
	return steps
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

func newCheckPlanCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate plan file",
		RunE: func(cmd *cobra.Command, args []string) error {
			issues := validatePlanFile(path)
			ok := len(issues) == 0
			if err := printJSON(map[string]any{"ok": ok, "path": path, "issues": issues}); err != nil {
				return err
			}
			if !ok {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "path to plan file")
	cmd.MarkFlagRequired("path")
	return cmd
}

func validatePlanFile(path string) []string {
	var issues []string

	data, err := os.ReadFile(path)
	if err != nil {
		return []string{fmt.Sprintf("cannot read plan: %v", err)}
	}
	content := string(data)

	if filepath.Ext(path) != ".md" {
		issues = append(issues, "plan must be a markdown (.md) file")
	}
	if strings.TrimSpace(content) == "" {
		issues = append(issues, "plan is empty")
	}
	if !strings.Contains(content, "#") {
		issues = append(issues, "plan has no headings")
	}
	return issues
}
