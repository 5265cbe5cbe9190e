// Command echo_agent is the minimal reference implementation of the
// agent wire protocol: it reads one ActionRequest from stdin and
// echoes the request's message payload back as its result, useful for
// exercising the dispatcher and retry controller without a real tool.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shayc/conductor/internal/wire"
)

func main() {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "echo_agent: read stdin: %v\n", err)
		os.Exit(1)
	}

	var req wire.ActionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		fmt.Fprintf(os.Stderr, "echo_agent: parse request: %v\n", err)
		os.Exit(1)
	}

	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(req.Payload, &payload)

	resp := wire.ActionResponse{
		RequestID:     req.RequestID,
		APIVersion:    req.APIVersion,
		Status:        "success",
		Code:          0,
		Result:        &wire.ActionResult{OutputType: "text", Data: payload.Message},
		PlanID:        req.PlanID,
		TaskID:        req.TaskID,
		CorrelationID: req.CorrelationID,
	}

	if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "echo_agent: encode response: %v\n", err)
		os.Exit(1)
	}
}
