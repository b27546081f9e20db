package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// CommandExecutor runs binaries on the host.
type CommandExecutor struct{}

// Run starts binary and forwards every stdout and stderr line to onOutput.
func (CommandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", binary, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		once    sync.Once
		scanErr error
	)
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if onOutput == nil {
				continue
			}
			mu.Lock()
			onOutput(scanner.Text())
			mu.Unlock()
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan %s output: %w", binary, scanErr)
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", binary, err)
	}
	return nil
}
