package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/trackq/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool
	Filter string
}

// ScenarioReport is the verdict for one scenario file.
type ScenarioReport struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Note   string   `json:"note,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// TestReport aggregates a whole run.
type TestReport struct {
	Scenarios []ScenarioReport `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run flush scenarios against golden traces",
		Long: `Replay every *.yaml scenario under a directory through the flush
manager with a scripted transport. A scenario passes when its cycle
expectations and assertions hold and its trace matches golden/<name>.golden
(when that file exists).

Exit codes:
  0  all scenarios passed
  1  at least one scenario failed
  2  the directory or filter could not be used

Examples:
  trackq test ./scenarios
  trackq test ./scenarios --filter "retry*"
  trackq test ./scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files from the current traces")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name matches this glob")
	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, "scenarios directory not found: "+dir)
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	report := TestReport{Scenarios: []ScenarioReport{}, Total: len(files)}
	if len(files) == 0 {
		return formatter.Render(report, func(w io.Writer) {
			fmt.Fprintln(w, "No scenarios found.")
		})
	}

	for _, file := range files {
		sr := checkScenario(file, opts.Update)
		formatter.Debugf("%s: pass=%t", file, sr.Pass)
		if sr.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Scenarios = append(report.Scenarios, sr)
	}

	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: report}
		if report.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: CodeTestFailed, Message: failedMessage(report)}
		}
		if err := formatter.encode(resp); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
	} else {
		writeTestText(cmd.OutOrStdout(), report)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, failedMessage(report))
	}
	return nil
}

func failedMessage(r TestReport) string {
	return fmt.Sprintf("%d scenario(s) failed", r.Failed)
}

func writeTestText(w io.Writer, r TestReport) {
	for _, sr := range r.Scenarios {
		if sr.Pass {
			fmt.Fprintf(w, "PASS %s%s\n", sr.Name, sr.Note)
			continue
		}
		fmt.Fprintf(w, "FAIL %s\n", sr.Name)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
}

// findScenarioFiles lists *.yaml and *.yml files under dir in lexical order,
// skipping golden/ directories.
func findScenarioFiles(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", filter, err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			if ok, _ := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext)); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// checkScenario loads, runs and compares one scenario file.
func checkScenario(file string, update bool) ScenarioReport {
	sr := ScenarioReport{Name: filepath.Base(file), File: file}
	fail := func(format string, args ...any) ScenarioReport {
		sr.Errors = append(sr.Errors, fmt.Sprintf(format, args...))
		return sr
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail("failed to load scenario: %v", err)
	}
	sr.Name = scenario.Name

	result, err := harness.Run(scenario)
	if err != nil {
		return fail("execution failed: %v", err)
	}
	snapshot, err := harness.MarshalSnapshot(scenario.Name, result)
	if err != nil {
		return fail("failed to marshal trace: %v", err)
	}

	golden := goldenFilePath(file)
	if update {
		if err := writeGoldenFile(golden, snapshot); err != nil {
			return fail("failed to update golden file: %v", err)
		}
		sr.Note = " (golden updated)"
	} else {
		want, err := os.ReadFile(golden)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// assertions only
		case err != nil:
			return fail("failed to read golden file: %v", err)
		case !bytes.Equal(want, snapshot):
			return fail("trace does not match golden file %s (run with --update to regenerate)", golden)
		}
	}

	if !result.Pass {
		sr.Errors = result.Errors
		return sr
	}
	sr.Pass = true
	return sr
}

// goldenFilePath maps dir/name.yaml to dir/golden/name.golden.
func goldenFilePath(scenarioFile string) string {
	name := strings.TrimSuffix(filepath.Base(scenarioFile), filepath.Ext(scenarioFile))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

func writeGoldenFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write golden file: %w", err)
	}
	return nil
}
