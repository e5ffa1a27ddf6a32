package commands

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/openfroyo/convergo/pkg/errors"
)

// exitError ends the process with code without printing anything.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Report prints err as "[kind] message" and returns the process exit code.
// Manager failures get a hint on how to recover.
func Report(w io.Writer, err error) int {
	var exit *exitError
	if stderrors.As(err, &exit) {
		return exit.code
	}

	e, ok := errors.As(err)
	if !ok {
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("[%s] %s", errors.KindInternal, err)))
		return 1
	}
	fmt.Fprintln(w, errorStyle.Render(err.Error()))

	if e.Kind == errors.KindManagerCommandFailed && e.Resource != "" {
		fmt.Fprintf(w, "\nManager %s failed during %s.\n", e.Resource, e.Op)
		fmt.Fprintln(w, "Items from earlier steps stay installed and the built generation did not move.")
		fmt.Fprintf(w, "Check leftovers with 'convergo managers list-others --manager %s',\n", e.Resource)
		fmt.Fprintln(w, "fix the configuration and run 'convergo gen current build' again.")
	}
	return 1
}
