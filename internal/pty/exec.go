package pty

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const execWaitDelay = time.Second

// ExecResult is the outcome of a one-shot run without a terminal.
type ExecResult struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Executor runs code to completion with plain pipes, keeping stdout and
// stderr apart. Nothing is registered and no input can be fed.
type Executor struct {
	Interpreter string
	Args        []string
}

func NewExecutor(interpreter string, args ...string) *Executor {
	if interpreter == "" {
		interpreter = DefaultInterpreter
		args = DefaultInterpreterArgs
	}
	return &Executor{Interpreter: interpreter, Args: slices.Clone(args)}
}

// Execute returns a non-nil error only when the program could not be run
// at all or ctx ended it; a non-zero exit is reported in the result.
func (e *Executor) Execute(ctx context.Context, code string) (ExecResult, error) {
	args := append(slices.Clone(e.Args), code)
	cmd := exec.CommandContext(ctx, e.Interpreter, args...)
	// Grandchildren may hold the pipes open after the interpreter is killed.
	cmd.WaitDelay = execWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ExecResult{
		Stdout: strings.ToValidUTF8(stdout.String(), string(utf8.RuneError)),
		Stderr: strings.ToValidUTF8(stderr.String(), string(utf8.RuneError)),
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.Success = true
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, wrapKind("exec", "", ErrSpawnFailed, err)
	}
	return res, nil
}
