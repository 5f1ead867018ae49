// Command exporter runs analysis report exports against the report backend
// and stores the results in a blob bucket.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Nubiru/bhaskara-sub000/internal/batch"
	"github.com/Nubiru/bhaskara-sub000/internal/downloader"
	exporthttp "github.com/Nubiru/bhaskara-sub000/internal/http"
	"github.com/Nubiru/bhaskara-sub000/internal/model"
	"github.com/Nubiru/bhaskara-sub000/pkg/artifact"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitBackendError     = 3
	ExitExportFailed     = 4
	ExitStorageError     = 5
	ExitCancelled        = 6
	ExitValidationFailed = 7
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	return execute(args, os.Stdin, os.Stdout, os.Stderr)
}

func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(&app{stdin: stdin, stdout: stdout, stderr: stderr})
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	// cobra reports unknown commands and flags as plain errors
	return ExitInvalidArgs
}

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCode maps an export error to an exit code.
func exitCode(err error) int {
	var (
		valErr   *model.ValidationError
		cfgErr   *model.ConfigurationError
		batchErr *batch.BatchError
		trErr    *exporthttp.TransportError
	)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &valErr), errors.As(err, &cfgErr):
		return ExitInvalidArgs
	case errors.As(err, &batchErr):
		return ExitExportFailed
	case errors.Is(err, downloader.ErrCancelled):
		return ExitCancelled
	case model.KindOf(err) == model.ErrorKindStorage, artifact.IsNotExist(err):
		return ExitStorageError
	case errors.As(err, &trErr):
		return ExitBackendError
	case model.KindOf(err) == model.ErrorKindRender:
		return ExitExportFailed
	default:
		return ExitGeneralError
	}
}
