package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/PeacheyByte/sellventory-companion/internal/archive"
	"github.com/PeacheyByte/sellventory-companion/internal/cli/appctx"
	"github.com/PeacheyByte/sellventory-companion/internal/render"
	"github.com/PeacheyByte/sellventory-companion/internal/schema"
)

// Exit codes
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
	ExitStaging = 3
	ExitSchema  = 4
)

// ExitError carries the process exit code for an error
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError returns an error that will cause the CLI to exit with the given code
func exitError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps an error returned by Execute to a process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	switch {
	case errors.Is(err, archive.ErrStaging):
		return ExitStaging
	case errors.Is(err, schema.ErrSchema):
		return ExitSchema
	default:
		return ExitFailure
	}
}

// exactArgs is cobra.ExactArgs with a usage exit code
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return exitError(ExitUsage, err)
		}
		return nil
	}
}

// newRenderer picks the output format from --json, --output or config
func newRenderer(cmd *cobra.Command, app *appctx.App, asJSON bool) (*render.Renderer, error) {
	name := app.Config.Output
	if f := cmd.Flag("output"); f != nil && f.Value.String() != "" {
		name = f.Value.String()
	}
	if asJSON {
		name = string(render.FormatJSON)
	}
	format, err := render.ParseFormat(name)
	if err != nil {
		return nil, exitError(ExitUsage, err)
	}
	return render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format}), nil
}

func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func warnf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.ErrOrStderr(), "warning: "+format+"\n", args...)
}
