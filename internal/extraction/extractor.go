package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Extractor derives structured values from an unstructured report file.
// The concrete mechanism (subprocess, RPC, in-process library) is an
// implementation detail; the orchestrator only depends on this contract.
type Extractor interface {
	Extract(ctx context.Context, filePath, testTypeCode string) (map[string]interface{}, error)
}

// StartError means the external extraction program could not be
// started at all, e.g. the executable is missing.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return "failed to start extraction process: " + e.Err.Error() }
func (e *StartError) Unwrap() error { return e.Err }

// ExitError means the extraction program ran but exited non-zero. It
// carries whatever diagnostics the program wrote to stderr.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("extraction process exited with code %d: %s", e.Code, strings.TrimSpace(e.Stderr))
}

// OutputError means the program reported success but its output could
// not be used: either the stdout was not valid JSON, or the decoded
// document carried an embedded error field.
type OutputError struct {
	Output string
	Err    error
}

func (e *OutputError) Error() string {
	if e.Err != nil {
		return "malformed extraction output: " + e.Err.Error()
	}
	return "extraction reported an error: " + e.Output
}

func (e *OutputError) Unwrap() error { return e.Err }

// CommandExtractor invokes an external extraction script as a child
// process: `<command> <script> <filePath> <testTypeCode>`. The script
// prints a single JSON object on stdout on success and uses a non-zero
// exit status plus stderr text for failures. Always run this off the
// request path; extraction can take tens of seconds on scanned PDFs.
type CommandExtractor struct {
	Command string // interpreter, e.g. "python3"
	Script  string // path to the extractor script
	Log     zerolog.Logger
}

// NewCommandExtractor creates an extractor running the given script
// with the given interpreter.
func NewCommandExtractor(command, script string, log zerolog.Logger) *CommandExtractor {
	return &CommandExtractor{Command: command, Script: script, Log: log}
}

// Extract runs the extraction program against the report file and
// returns the structured data it produced.
func (e *CommandExtractor) Extract(ctx context.Context, filePath, testTypeCode string) (map[string]interface{}, error) {
	cmd := exec.CommandContext(ctx, e.Command, e.Script, filePath, testTypeCode)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.Log.Debug().
		Str("command", e.Command).
		Str("script", e.Script).
		Str("file", filePath).
		Str("format", testTypeCode).
		Msg("invoking extraction process")

	if err := cmd.Start(); err != nil {
		return nil, &StartError{Err: err}
	}

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			e.Log.Error().
				Int("code", exitErr.ExitCode()).
				Str("stderr", stderr.String()).
				Msg("extraction process failed")
			return nil, &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return nil, &StartError{Err: err}
	}

	var result map[string]interface{}
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		e.Log.Error().Str("stdout", stdout.String()).Msg("failed to parse extraction output")
		return nil, &OutputError{Output: stdout.String(), Err: err}
	}

	// The script signals parse-level failures inside an otherwise valid
	// JSON document.
	if msg, ok := result["error"].(string); ok && msg != "" {
		return nil, &OutputError{Output: msg}
	}

	return result, nil
}
