package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RouterCompleter completes prompts through the router for one tier.
type RouterCompleter struct {
	router    *Router
	tier      Tier
	maxTokens int
}

// NewRouterCompleter binds a completer to a router tier.
func NewRouterCompleter(r *Router, tier Tier, maxTokens int) *RouterCompleter {
	return &RouterCompleter{router: r, tier: tier, maxTokens: maxTokens}
}

// Complete sends prompt as a single user message.
func (c *RouterCompleter) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := c.router.Route(ctx, c.tier, &ChatRequest{
		Messages:  []Message{{Role: "user", Content: prompt}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("complete %s: %w", c.tier, err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("complete %s: %w", c.tier, ErrEmptyResponse)
	}
	return text, nil
}

// DefaultAgentCommand is the agent runtime binary the CLI backend shells out to.
const DefaultAgentCommand = "openclaw"

// CLICompleter runs the agent runtime as a subprocess, one fresh session
// per prompt:
//
//	<command> agent --json --session-id <uuid> --message <prompt>
type CLICompleter struct {
	Command string
	// Args precede the fixed agent arguments.
	Args   []string
	logger *zap.Logger
}

// NewCLICompleter creates a subprocess completer. An empty command means
// DefaultAgentCommand.
func NewCLICompleter(command string, logger *zap.Logger) *CLICompleter {
	if command == "" {
		command = DefaultAgentCommand
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLICompleter{Command: command, logger: logger}
}

type cliResponse struct {
	Result struct {
		Payloads []struct {
			Text string `json:"text"`
		} `json:"payloads"`
	} `json:"result"`
}

// Complete runs the subprocess and returns the first payload's text.
func (c *CLICompleter) Complete(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	session := uuid.NewString()
	args := append(append([]string{}, c.Args...),
		"agent", "--json", "--session-id", session, "--message", prompt)
	cmd := exec.CommandContext(ctx, c.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("agent command timed out after %s: %w", time.Since(start).Round(time.Millisecond), ctx.Err())
		}
		return "", fmt.Errorf("agent command failed: %w: %s", err, truncate(stderr.String(), 300))
	}

	var resp cliResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("parse agent output %q: %w", truncate(stdout.String(), 200), err)
	}
	if len(resp.Result.Payloads) == 0 {
		return "", fmt.Errorf("no payloads in agent output: %w", ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Result.Payloads[0].Text)
	if text == "" {
		return "", fmt.Errorf("empty payload text: %w", ErrEmptyResponse)
	}
	c.logger.Debug("agent command complete",
		zap.String("session", session),
		zap.Duration("duration", time.Since(start)))
	return text, nil
}

// Static is a canned completer for mock runs and tests. It is safe for
// concurrent use.
type Static struct {
	mu   sync.Mutex
	Text string
	Err  error
	// Calls counts Complete invocations.
	Calls int
	// LastPrompt is the most recent prompt received.
	LastPrompt string
}

// Complete returns the canned text or error.
func (s *Static) Complete(_ context.Context, prompt string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	s.LastPrompt = prompt
	if s.Err != nil {
		return "", s.Err
	}
	if strings.TrimSpace(s.Text) == "" {
		return "", ErrEmptyResponse
	}
	return s.Text, nil
}

// CallCount reports Calls under the lock.
func (s *Static) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
