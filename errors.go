package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"comfyclient/comfyapi"
	"comfyclient/core"
)

// exitError carries an explicit exit code out of a command.
type exitError struct {
	code    int
	message string
	err     error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *exitError) Unwrap() error {
	return e.err
}

func wrapExitError(code int, message string, err error) *exitError {
	return &exitError{code: code, message: message, err: err}
}

// exitCodeFor maps a command error to a process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return core.ExitCodeSuccess
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	if _, ok := core.IsConfigError(err); ok {
		return core.ExitCodeConfig
	}
	var validationErr *comfyapi.ValidationError
	if errors.As(err, &validationErr) {
		return core.ExitCodeRejected
	}
	if errors.Is(err, context.Canceled) {
		return core.ExitCodeSIGINT
	}
	return core.ExitCodeError
}

// printError writes err to w. Rejected prompts get one line per node error.
func printError(w io.Writer, err error) {
	errColor := color.New(color.FgRed)
	dim := color.New(color.FgHiBlack)

	errColor.Fprintf(w, "✗ %v\n", err)

	if cfgErr, ok := core.IsConfigError(err); ok && cfgErr.Code != "" {
		dim.Fprintf(w, "    └─ %s\n", cfgErr.Code)
	}

	var validationErr *comfyapi.ValidationError
	if !errors.As(err, &validationErr) || len(validationErr.NodeErrors) == 0 {
		return
	}

	ids := make([]string, 0, len(validationErr.NodeErrors))
	for id := range validationErr.NodeErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		nodeErr := validationErr.NodeErrors[id]
		for _, detail := range nodeErr.Errors {
			line := detail.Message
			if detail.Details != "" {
				line += ": " + detail.Details
			}
			errColor.Fprintf(w, "    └─ node %s", id)
			if nodeErr.ClassType != "" {
				dim.Fprintf(w, " (%s)", nodeErr.ClassType)
			}
			fmt.Fprintf(w, " %s\n", line)
		}
	}
}
