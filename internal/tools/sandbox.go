package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/tracing"
)

// MaxSandboxOutput caps what a check keeps of interpreter or executor output.
const MaxSandboxOutput = 16 << 10

// pythonCompile parses stdin without running it.
const pythonCompile = `import sys; compile(sys.stdin.read(), "<snippet>", "exec", dont_inherit=True)`

// CheckResult reports what the sandbox could establish about a snippet.
// Executed is false when only a syntax check was possible.
type CheckResult struct {
	Executed bool
	OK       bool
	Output   string
}

// Sandbox checks code snippets. Python is executed only by a remote isolated
// executor (the llm-service python_executor tool); without one it is compiled
// by the local interpreter and never run. Go and JSON are parsed in process.
type Sandbox struct {
	pythonPath  string
	executorURL string
	httpClient  *http.Client
}

// NewSandbox creates the code_sandbox tool from cfg. Python checks are
// skipped when neither an executor nor a local interpreter is available.
func NewSandbox(cfg config.ToolsConfig) *Sandbox {
	s := &Sandbox{
		executorURL: strings.TrimRight(cfg.SandboxURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	path := cfg.PythonPath
	if path == "" {
		path = "python3"
	}
	if p, err := exec.LookPath(path); err == nil {
		s.pythonPath = p
	}
	return s
}

func (s *Sandbox) Name() string { return models.ToolCodeSandbox }

func (s *Sandbox) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	code, err := StringArg(args, "code")
	if err != nil {
		return "", err
	}
	lang, _ := args["language"].(string)
	res, err := s.Check(ctx, lang, code)
	if err != nil {
		return "", err
	}
	return formatCheck(res), nil
}

func formatCheck(res CheckResult) string {
	mode := "syntax"
	if res.Executed {
		mode = "executed"
	}
	status := "ok"
	if !res.OK {
		status = "error"
	}
	out := fmt.Sprintf("mode: %s\nstatus: %s", mode, status)
	if res.Output != "" {
		out += "\n" + res.Output
	}
	return out
}

// ParseCheck reads back a payload produced by the code_sandbox tool.
func ParseCheck(payload string) (CheckResult, bool) {
	lines := strings.SplitN(payload, "\n", 3)
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "mode: ") || !strings.HasPrefix(lines[1], "status: ") {
		return CheckResult{}, false
	}
	res := CheckResult{
		Executed: strings.TrimPrefix(lines[0], "mode: ") == "executed",
		OK:       strings.TrimPrefix(lines[1], "status: ") == "ok",
	}
	if len(lines) == 3 {
		res.Output = lines[2]
	}
	return res, true
}

// Check runs or parses code. Unsupported languages return ErrSkipped.
func (s *Sandbox) Check(ctx context.Context, language, code string) (CheckResult, error) {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "python", "py", "python3":
		switch {
		case s.executorURL != "":
			return s.executePython(ctx, code)
		case s.pythonPath != "":
			return s.compilePython(ctx, code)
		}
		return CheckResult{}, fmt.Errorf("%w: python interpreter unavailable", ErrSkipped)
	case "go", "golang":
		return checkGo(code), nil
	case "json":
		if json.Valid([]byte(code)) {
			return CheckResult{OK: true}, nil
		}
		return CheckResult{Output: "invalid JSON"}, nil
	default:
		return CheckResult{}, fmt.Errorf("%w: language %q not supported", ErrSkipped, language)
	}
}

// compilePython byte-compiles code in an isolated interpreter with an empty
// environment. The snippet itself never runs.
func (s *Sandbox) compilePython(ctx context.Context, code string) (CheckResult, error) {
	cmd := exec.CommandContext(ctx, s.pythonPath, "-I", "-S", "-c", pythonCompile)
	cmd.Env = []string{}
	cmd.Stdin = strings.NewReader(code)
	out := &cappedBuffer{limit: MaxSandboxOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	killProcessGroup(cmd)

	err := cmd.Run()
	if ctx.Err() != nil {
		return CheckResult{}, ctx.Err()
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return CheckResult{OK: true}, nil
	case errors.As(err, &exitErr):
		return CheckResult{Output: lastLine(out.String())}, nil
	default:
		return CheckResult{}, fmt.Errorf("compile python: %w", err)
	}
}

type executeRequest struct {
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters"`
}

type executeResponse struct {
	Success bool            `json:"success"`
	Output  json.RawMessage `json:"output"`
	Error   string          `json:"error"`
}

// executePython runs code through the executor's python_executor tool.
func (s *Sandbox) executePython(ctx context.Context, code string) (CheckResult, error) {
	body, err := json.Marshal(executeRequest{
		ToolName:   "python_executor",
		Parameters: map[string]interface{}{"code": code},
	})
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.executorURL+"/tools/execute", bytes.NewReader(body))
	if err != nil {
		return CheckResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return CheckResult{}, ctx.Err()
		}
		return CheckResult{}, fmt.Errorf("executor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return CheckResult{}, fmt.Errorf("executor error: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var er executeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4*MaxSandboxOutput)).Decode(&er); err != nil {
		return CheckResult{}, fmt.Errorf("failed to decode executor response: %w", err)
	}

	output := er.Error
	if er.Success {
		output = rawText(er.Output)
	}
	return CheckResult{Executed: true, OK: er.Success, Output: truncateOutput(output)}, nil
}

// rawText unquotes a JSON string and keeps any other value as written.
func rawText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if string(raw) == "null" {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func truncateOutput(s string) string {
	if len(s) > MaxSandboxOutput {
		return s[:MaxSandboxOutput]
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// cappedBuffer keeps the first limit bytes written and drops the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string { return c.buf.String() }

// checkGo parses the snippet as a file, then as declarations in package
// main, then as statements in a function body.
func checkGo(code string) CheckResult {
	attempts := []string{code}
	if !strings.HasPrefix(strings.TrimSpace(code), "package ") {
		attempts = []string{
			"package main\n\n" + code,
			"package main\n\nfunc main() {\n" + code + "\n}\n",
		}
	}
	var lastErr error
	for _, src := range attempts {
		_, err := parser.ParseFile(token.NewFileSet(), "snippet.go", src, parser.AllErrors)
		if err == nil {
			return CheckResult{OK: true}
		}
		lastErr = err
	}
	return CheckResult{Output: lastErr.Error()}
}
