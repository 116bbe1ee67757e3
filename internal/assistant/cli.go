package assistant

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const maxLineBuffer = 10 * 1024 * 1024

// CLIBackend drives a locally installed assistant command line in print mode
type CLIBackend struct {
	Binary string
	Logger *zap.Logger
}

// NewCLIBackend creates a backend for binary, resolving it on PATH lazily
func NewCLIBackend(binary string, logger *zap.Logger) *CLIBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLIBackend{Binary: binary, Logger: logger.Named("assistant.cli")}
}

func (c *CLIBackend) Name() string { return "cli" }

// streamEvent is one line of stream-json output
type streamEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
}

func (c *CLIBackend) args(req Request, format string) []string {
	p := req.Profile
	args := []string{"--print", "--output-format", format}
	if format == "stream-json" {
		args = append(args, "--verbose")
	}
	if p.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", p.SystemPrompt)
	}
	if len(p.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(p.AllowedTools, ","))
	}
	if p.PermissionMode != "" {
		args = append(args, "--permission-mode", p.PermissionMode)
	}
	if p.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(p.MaxTurns))
	}
	if p.Model != "" {
		args = append(args, "--model", p.Model)
	}
	return append(args, req.Prompt)
}

func (c *CLIBackend) command(ctx context.Context, req Request, format string) (*exec.Cmd, *bytes.Buffer) {
	cmd := exec.CommandContext(ctx, c.Binary, c.args(req, format)...)
	cmd.Dir = req.WorkDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	return cmd, &stderr
}

// Stream implements Backend by reading stream-json events line by line
func (c *CLIBackend) Stream(ctx context.Context, req Request, onDelta DeltaFunc) error {
	cmd, stderr := c.command(ctx, req, "stream-json")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("assistant stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return c.startErr(err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBuffer)

	var streamErr error
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var ev streamEvent
		if err := sonic.Unmarshal(line, &ev); err != nil {
			streamErr = fmt.Errorf("%w: %v", ErrMalformedResponse, err)
			break
		}

		switch ev.Type {
		case "assistant":
			if text := ev.text(); text != "" {
				if err := onDelta(text); err != nil {
					streamErr = err
				}
			}
		case "result":
			if ev.IsError {
				streamErr = resultErr(ev.Result)
			}
		default:
			c.Logger.Debug("ignoring stream event", zap.String("type", ev.Type), zap.String("subtype", ev.Subtype))
		}
		if streamErr != nil {
			break
		}
	}
	if streamErr == nil {
		if err := scanner.Err(); err != nil {
			streamErr = fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}

	if streamErr != nil {
		// Stop the process; its exit status no longer matters
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		cmd.Wait()
		return streamErr
	}
	return c.waitErr(ctx, cmd.Wait(), stderr)
}

// Complete implements Backend with a single json result
func (c *CLIBackend) Complete(ctx context.Context, req Request) (string, error) {
	cmd, stderr := c.command(ctx, req, "json")
	out, err := cmd.Output()
	if err != nil {
		if cmd.ProcessState == nil {
			// Never started
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", c.startErr(err)
		}
		return "", c.waitErr(ctx, err, stderr)
	}

	var ev streamEvent
	if err := sonic.Unmarshal(bytes.TrimSpace(out), &ev); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if ev.IsError {
		return "", resultErr(ev.Result)
	}
	return ev.Result, nil
}

func (ev *streamEvent) text() string {
	if ev.Message == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range ev.Message.Content {
		if block.Type == "text" || block.Type == "" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func resultErr(result string) error {
	if quotaHint(result) {
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, result)
	}
	return fmt.Errorf("assistant reported an error: %s", result)
}

func (c *CLIBackend) startErr(err error) error {
	return fmt.Errorf("%w: start %s: %v", ErrUnreachable, c.Binary, err)
}

func (c *CLIBackend) waitErr(ctx context.Context, err error, stderr *bytes.Buffer) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	msg := strings.TrimSpace(stderr.String())
	if quotaHint(msg) {
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)
	}
	if msg == "" {
		return fmt.Errorf("assistant process: %w", err)
	}
	return fmt.Errorf("assistant process: %w: %s", err, msg)
}
