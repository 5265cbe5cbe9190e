// Package agentexec runs a single agent invocation as a child process,
// speaking the line-delimited JSON wire protocol on its stdin/stdout.
package agentexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/shayc/conductor/internal/core"
	"github.com/shayc/conductor/internal/registry"
	"github.com/shayc/conductor/internal/wire"
)

// Outcome is the result of one agent invocation attempt. Err is nil
// exactly when the attempt succeeded, and Response then holds the
// successful ActionResponse. When the agent returned a well-formed but
// unsuccessful response, both are set: Response holds that response and
// Err its classification. On every other failure only Err is set.
type Outcome struct {
	Response *wire.ActionResponse
	Err      *core.AgentError
}

// Executor launches agent processes and speaks the wire protocol with
// them. It never retries; retry policy lives one layer up in
// internal/retrycontrol.
type Executor struct {
	registry *registry.Registry
}

// New returns an Executor resolving agent binaries through reg.
func New(reg *registry.Registry) *Executor {
	return &Executor{registry: reg}
}

// Execute runs one attempt: spawn the agent named by req.Tool, write the
// request to its stdin, close stdin, wait up to timeout for it to exit,
// and parse its stdout. The child is always killed and reaped before
// Execute returns, on every exit path, so a timed-out or malformed agent
// never lingers.
func (e *Executor) Execute(ctx context.Context, req *wire.ActionRequest, timeout time.Duration) Outcome {
	entry, err := e.registry.Resolve(req.Tool)
	if err != nil {
		return Outcome{Err: &core.AgentError{
			Kind:    core.KindInvalidRequest,
			Message: fmt.Sprintf("agent %q is not registered", req.Tool),
		}}
	}

	requestJSON, err := marshalRequest(req)
	if err != nil {
		return Outcome{Err: &core.AgentError{
			Kind:    core.KindInternal,
			Message: "failed to serialize agent request",
		}}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, entry.Path, entry.Args...)
	cmd.Stdin = bytes.NewReader(requestJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return Outcome{Err: &core.AgentError{
			Kind:    core.KindTimeout,
			Message: fmt.Sprintf("agent %s timed out after %s", req.Tool, timeout),
			Raw:     stdout.String(),
		}}
	}
	if ctx.Err() != nil {
		return Outcome{Err: &core.AgentError{
			Kind:    core.KindInternal,
			Message: "dispatch cancelled while agent was running",
		}}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return Outcome{Err: &core.AgentError{
				Kind:    core.KindBackendFailure,
				Message: fmt.Sprintf("agent %s exited with status %s", req.Tool, exitErr.ProcessState),
				Raw:     stderr.String(),
			}}
		}
		return Outcome{Err: &core.AgentError{
			Kind:    core.KindIO,
			Message: fmt.Sprintf("failed to run agent %s", req.Tool),
			Raw:     runErr.Error(),
		}}
	}

	resp, err := wire.ParseResponse(stdout.Bytes())
	if err != nil {
		return Outcome{Err: &core.AgentError{
			Kind:    core.KindBackendFailure,
			Message: fmt.Sprintf("agent %s produced an unparseable response", req.Tool),
			Raw:     stdout.String(),
		}}
	}

	if !resp.Success() {
		kind := core.CodeToKind(resp.Code)
		msg := fmt.Sprintf("agent %s returned status %q code %d", req.Tool, resp.Status, resp.Code)
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return Outcome{
			Response: resp,
			Err: &core.AgentError{
				Kind:    kind,
				Message: msg,
				Raw:     stdout.String(),
			},
		}
	}

	return Outcome{Response: resp}
}

func marshalRequest(req *wire.ActionRequest) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
