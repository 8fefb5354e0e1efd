package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeResponse(t *testing.T, buf *bytes.Buffer) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), buf.String())
	return resp
}

func TestOutputFormatter_Success(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, f.Success(map[string]int{"queue_depth": 3}))

	resp := decodeResponse(t, buf)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"queue_depth": float64(3)}, resp.Data)
	assert.Nil(t, resp.Error)

	buf.Reset()
	f.Format = "text"
	require.NoError(t, f.Success("queue is empty"))
	assert.Equal(t, "queue is empty\n", buf.String())
}

func TestOutputFormatter_Error(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		verbose bool
		details any
		want    []string
		notWant []string
	}{
		{"text", "text", false, map[string]string{"field": "max_tries"},
			[]string{"Error [E_CONFIG_INVALID]: invalid config"}, []string{"Details:"}},
		{"text_verbose", "text", true, map[string]string{"field": "max_tries"},
			[]string{"Error [E_CONFIG_INVALID]", "Details: map[field:max_tries]"}, nil},
		{"json", "json", false, []string{"max_tries: must be at least 1"},
			[]string{`"status":"error"`, `"code":"E_CONFIG_INVALID"`, `"details":["max_tries: must be at least 1"]`}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: tt.format, Writer: buf, Verbose: tt.verbose}
			require.NoError(t, f.Error(CodeConfigInvalid, "invalid config", tt.details))
			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.notWant {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	err := f.Fail(ExitFailure, CodeTestFailed, "2 scenario(s) failed", nil)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "2 scenario(s) failed", err.Error())

	resp := decodeResponse(t, buf)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)
}

func TestOutputFormatter_Debugf(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		errw    bool
	}{
		{"quiet", false, false},
		{"verbose_to_writer", true, false},
		{"verbose_to_errwriter", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
			f := &OutputFormatter{Format: "json", Writer: out, Verbose: tt.verbose}
			if tt.errw {
				f.ErrWriter = errOut
			}

			f.Debugf("flushing %d queued event(s)", 4)

			switch {
			case !tt.verbose:
				assert.Empty(t, out.String())
			case tt.errw:
				assert.Empty(t, out.String())
				assert.Equal(t, "flushing 4 queued event(s)\n", errOut.String())
			default:
				assert.Equal(t, "flushing 4 queued event(s)\n", out.String())
			}
		})
	}
}

func TestOutputFormatter_Render(t *testing.T) {
	buf := &bytes.Buffer{}
	text := &OutputFormatter{Format: "text", Writer: buf}
	require.NoError(t, text.Render(map[string]int{"cleared": 2}, func(w io.Writer) {
		fmt.Fprintln(w, "cleared 2 event(s)")
	}))
	assert.Equal(t, "cleared 2 event(s)\n", buf.String())

	buf.Reset()
	js := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, js.Render(map[string]int{"cleared": 2}, func(w io.Writer) {
		t.Fatal("text renderer called in json mode")
	}))
	resp := decodeResponse(t, buf)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"cleared": float64(2)}, resp.Data)
}

func TestExitError(t *testing.T) {
	base := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to open tracker", base)
	assert.Equal(t, "failed to open tracker: disk full", err.Error())
	assert.ErrorIs(t, err, base)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"wrapped", err, ExitCommandError},
		{"plain", NewExitError(ExitFailure, "x"), ExitFailure},
		{"foreign", base, ExitFailure},
		{"nested", fmt.Errorf("serve: %w", err), ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}
