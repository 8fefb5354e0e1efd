package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess      = 0 // command did what was asked
	ExitFailure      = 1 // ran, but the outcome is a failure (invalid config, failed scenarios)
	ExitCommandError = 2 // could not run (bad flags, unreadable queue, missing files)
)

// Machine-readable error codes carried in the JSON envelope.
const (
	CodeConfigLoad    = "E_CONFIG_LOAD"
	CodeConfigInvalid = "E_CONFIG_INVALID"
	CodeTestFailed    = "E_TEST_FAILED"
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError wrapping err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that carry no
// ExitError anywhere in their chain exit with ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the envelope every command writes in --format json.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failure inside CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or as a JSON envelope.
// Diagnostics go to ErrWriter so they never interleave with JSON on Writer.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

func newFormatter(opts *RootOptions, cmd interface {
	OutOrStdout() io.Writer
	ErrOrStderr() io.Writer
}) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func (f *OutputFormatter) json() bool { return f.Format == "json" }

// Success writes data. Text mode prints it with fmt's default formatting.
func (f *OutputFormatter) Success(data any) error {
	if f.json() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Render writes data in the JSON envelope, or hands the writer to text.
func (f *OutputFormatter) Render(data any, text func(w io.Writer)) error {
	if f.json() {
		return f.Success(data)
	}
	text(f.Writer)
	return nil
}

// Error writes a failure report. Details are printed in text mode only
// when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.json() {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports the failure and returns the ExitError the command should
// return, so callers can write `return formatter.Fail(...)`.
func (f *OutputFormatter) Fail(exit int, code, message string, details any) error {
	if err := f.Error(code, message, details); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return NewExitError(exit, message)
}

// Debugf prints a diagnostic line when --verbose is set.
func (f *OutputFormatter) Debugf(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	if f.Verbose {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(resp)
}
