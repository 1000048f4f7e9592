package tmux

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// ControlClient is a `tmux -C attach-session` process. Lines yields every
// line tmux writes in control mode and is closed when the client exits.
type ControlClient struct {
	lines chan string
	done  chan struct{}

	stdin io.WriteCloser
	cmd   *exec.Cmd

	closeOnce sync.Once
	linesOnce sync.Once
}

func AttachControl(ctx context.Context, socket, session string) (*ControlClient, error) {
	args := append(tmuxArgsWithSocket(socket), "-C", "attach-session", "-t", strings.TrimSpace(session))
	return startControl(exec.CommandContext(ctx, "tmux", args...))
}

func startControl(cmd *exec.Cmd) (*ControlClient, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	c := &ControlClient{
		lines: make(chan string, 512),
		done:  make(chan struct{}),
		stdin: stdin,
		cmd:   cmd,
	}
	go c.scanStdout(stdout)
	go func() {
		_, _ = io.Copy(io.Discard, stderr)
	}()
	return c, nil
}

func (c *ControlClient) Lines() <-chan string {
	return c.lines
}

func (c *ControlClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.stdin != nil {
			_, _ = io.WriteString(c.stdin, "detach-client\n")
			_ = c.stdin.Close()
		}
		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
			// Wait also closes the parent ends of the pipes.
			_ = c.cmd.Wait()
		}
	})
	return nil
}

// scanStdout blocks on a full queue rather than dropping lines; every byte
// of console output matters to prompt matching.
func (c *ControlClient) scanStdout(stdout io.Reader) {
	defer c.closeLines()
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 1024), 1024*1024)
	for sc.Scan() {
		select {
		case c.lines <- sc.Text():
		case <-c.done:
			return
		}
	}
}

func (c *ControlClient) closeLines() {
	c.linesOnce.Do(func() {
		close(c.lines)
	})
}
