// Command shell_agent runs git commands scoped to a repository root
// taken from the SHELL_AGENT_REPO_ROOT environment variable. It
// supports the git_status, git_diff, git_log, git_add, and git_commit
// actions, validating any file paths it is given stay under the repo
// root before ever handing them to git.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shayc/conductor/internal/wire"
)

func main() {
	repoRoot, err := loadRepoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "shell_agent: %v\n", err)
		os.Exit(1)
	}

	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shell_agent: read stdin: %v\n", err)
		os.Exit(1)
	}

	var req wire.ActionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		fmt.Fprintf(os.Stderr, "shell_agent: parse request: %v\n", err)
		os.Exit(1)
	}

	resp := handleRequest(repoRoot, req)
	if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "shell_agent: encode response: %v\n", err)
		os.Exit(1)
	}
}

func loadRepoRoot() (string, error) {
	root := os.Getenv("SHELL_AGENT_REPO_ROOT")
	if root == "" {
		return "", fmt.Errorf("SHELL_AGENT_REPO_ROOT is not set")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve repo root: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", fmt.Errorf("repo root %q is not a directory", abs)
	}
	return abs, nil
}

func handleRequest(repoRoot string, req wire.ActionRequest) wire.ActionResponse {
	var payload map[string]json.RawMessage
	_ = json.Unmarshal(req.Payload, &payload)

	var result wire.ActionResult
	var actionErr *wire.ActionError

	switch req.Action {
	case "git_status":
		result = runGit(repoRoot, "status", "--porcelain")
	case "git_diff":
		files := stringSlice(payload["files"])
		paths, err := validateRepoPaths(repoRoot, files)
		if err != nil {
			actionErr = badRequest(err.Error())
			break
		}
		result = runGit(repoRoot, append([]string{"diff"}, paths...)...)
	case "git_log":
		limit := "10"
		if v, ok := payload["limit"]; ok {
			var s string
			if json.Unmarshal(v, &s) == nil && s != "" {
				limit = s
			}
		}
		result = runGit(repoRoot, "log", "-n", limit)
	case "git_add":
		files := stringSlice(payload["files"])
		if len(files) == 0 {
			actionErr = badRequest("no files specified for git add")
			break
		}
		paths, err := validateRepoPaths(repoRoot, files)
		if err != nil {
			actionErr = badRequest(err.Error())
			break
		}
		result = runGit(repoRoot, append([]string{"add"}, paths...)...)
	case "git_commit":
		var message string
		if v, ok := payload["message"]; ok {
			_ = json.Unmarshal(v, &message)
		}
		if message == "" {
			actionErr = badRequest("commit message not provided")
			break
		}
		result = runGit(repoRoot, "commit", "-m", message)
	default:
		actionErr = &wire.ActionError{Code: 501, Message: fmt.Sprintf("unknown action: %s", req.Action)}
	}

	if actionErr != nil {
		return wire.ActionResponse{
			RequestID:     req.RequestID,
			APIVersion:    req.APIVersion,
			Status:        "error",
			Code:          actionErr.Code,
			Error:         actionErr,
			PlanID:        req.PlanID,
			TaskID:        req.TaskID,
			CorrelationID: req.CorrelationID,
		}
	}

	status := "success"
	code := 0
	if result.OutputType == "error" {
		status = "error"
		code = 1
	}
	return wire.ActionResponse{
		RequestID:     req.RequestID,
		APIVersion:    req.APIVersion,
		Status:        status,
		Code:          code,
		Result:        &result,
		PlanID:        req.PlanID,
		TaskID:        req.TaskID,
		CorrelationID: req.CorrelationID,
	}
}

func badRequest(message string) *wire.ActionError {
	return &wire.ActionError{Code: 400, Message: message}
}

func stringSlice(raw json.RawMessage) []string {
	if raw == nil {
		return nil
	}
	var out []string
	_ = json.Unmarshal(raw, &out)
	return out
}

// validateRepoPaths resolves every requested path against repoRoot and
// rejects any that escape it, refusing traversal attempts like "../..".
func validateRepoPaths(repoRoot string, paths []string) ([]string, error) {
	validated := make([]string, 0, len(paths))
	for _, p := range paths {
		joined := filepath.Join(repoRoot, p)
		rel, err := filepath.Rel(repoRoot, joined)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("path %q escapes repository root", p)
		}
		validated = append(validated, joined)
	}
	return validated, nil
}

func runGit(repoRoot string, args ...string) wire.ActionResult {
	cmd := exec.Command("git", args...)
	cmd.Dir = repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return wire.ActionResult{OutputType: "error", Data: string(out)}
	}
	return wire.ActionResult{OutputType: "text", Data: string(out)}
}
