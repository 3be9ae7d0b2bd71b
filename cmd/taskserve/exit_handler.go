package main

import (
	"fmt"
	"io"
	"os"

	"github.com/loykin/taskserve/internal/common"
)

// ExitHandler provides a testable way to handle program termination
type ExitHandler interface {
	Exit(code int)
	Fatal(err error)
}

// DefaultExitHandler implements ExitHandler for production use
type DefaultExitHandler struct {
	out  io.Writer
	exit func(int)
}

// NewDefaultExitHandler creates a new default exit handler
func NewDefaultExitHandler() *DefaultExitHandler {
	return &DefaultExitHandler{out: os.Stderr, exit: os.Exit}
}

// Exit terminates the program with the given exit code
func (h *DefaultExitHandler) Exit(code int) {
	h.exit(code)
}

// Fatal prints err as one masked line, bypassing the logger's level and
// format, and exits with status 1.
func (h *DefaultExitHandler) Fatal(err error) {
	_, _ = fmt.Fprintln(h.out, common.GetGlobalMasker().MaskString(err.Error()))
	h.Exit(1)
}

// Global exit handler (can be replaced for testing)
var exitHandler ExitHandler = NewDefaultExitHandler()
