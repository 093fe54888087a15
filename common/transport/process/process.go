// Package process runs a worker as a child process that exchanges
// newline-delimited JSON envelopes over stdin and stdout.
package process

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
	"github.com/rs/zerolog/log"
)

// maxLine bounds a single inbound message; recognize results with hOCR and
// TSV output can be several megabytes.
const maxLine = 64 << 20

var (
	ErrNoCommand = errors.New("no worker command configured")
	ErrClosed    = errors.New("worker process closed")
)

// Transport spawns worker processes
type Transport struct {
	Command string
	Args    []string
	// Env is appended to the current environment of the child.
	Env []string
}

// New creates a transport running command with args. SpawnOptions.WorkerPath
// overrides command and SpawnOptions.WorkerArgs are appended to args.
func New(command string, args ...string) *Transport {
	return &Transport{Command: command, Args: args}
}

func (t *Transport) Spawn(ctx context.Context, workerID string, opts worker.SpawnOptions) (worker.Channel, error) {
	command := t.Command
	if opts.WorkerPath != "" {
		command = opts.WorkerPath
	}
	if command == "" {
		return nil, ErrNoCommand
	}

	args := append(append([]string{}, t.Args...), opts.WorkerArgs...)
	cmd := exec.Command(command, args...)
	cmd.Env = append(append(os.Environ(), t.Env...), "WORKER_ID="+workerID)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// Wait returns only after all output has been copied into these pipes.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	c := &channel{
		id:       workerID,
		cmd:      cmd,
		stdin:    stdin,
		stdout:   stdoutR,
		stderr:   stderrR,
		writers:  []*io.PipeWriter{stdoutW, stderrW},
		queued:   make(chan struct{}, 1),
		exited:   make(chan struct{}),
		readDone: make(chan struct{}),
	}
	go c.logStderr()
	go c.write()
	go c.wait()

	log.Info().
		Str("workerId", workerID).
		Str("command", command).
		Int("pid", cmd.Process.Pid).
		Msg("Started worker process")
	return c, nil
}

type channel struct {
	id      string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *io.PipeReader
	stderr  *io.PipeReader
	writers []*io.PipeWriter

	// outbox holds encoded envelopes until write copies them to stdin
	outMu  sync.Mutex
	outbox [][]byte
	queued chan struct{}

	mu         sync.Mutex
	onMessage  func(worker.Message)
	onError    func(error)
	reading    bool
	terminated bool
	exited     chan struct{}
	readDone   chan struct{}
}

// Send queues env for the child and returns without waiting for the write
func (c *channel) Send(env worker.Envelope) error {
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	line = append(line, '\n')

	select {
	case <-c.exited:
		return ErrClosed
	default:
	}
	if c.isTerminated() {
		return ErrClosed
	}

	c.outMu.Lock()
	c.outbox = append(c.outbox, line)
	c.outMu.Unlock()

	select {
	case c.queued <- struct{}{}:
	default:
	}
	return nil
}

// write copies queued envelopes to stdin in send order. The child reads
// stdin between jobs, so a large envelope may block here until it is idle.
func (c *channel) write() {
	for {
		select {
		case <-c.exited:
			return
		case <-c.queued:
		}

		c.outMu.Lock()
		lines := c.outbox
		c.outbox = nil
		c.outMu.Unlock()

		for _, line := range lines {
			if _, err := c.stdin.Write(line); err != nil {
				if c.isTerminated() {
					return
				}
				// the exit is reported by wait
				log.Error().Err(err).Str("workerId", c.id).Msg("Failed to write envelope, killing worker")
				_ = c.cmd.Process.Kill()
				return
			}
		}
	}
}

// OnMessage registers fn and starts reading stdout
func (c *channel) OnMessage(fn func(worker.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
	if !c.reading {
		c.reading = true
		go c.read()
	}
}

func (c *channel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

func (c *channel) read() {
	defer close(c.readDone)

	scanner := bufio.NewScanner(c.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg worker.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.fail(fmt.Errorf("decode worker message: %w", err))
			continue
		}

		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		fn(msg)
	}

	if err := scanner.Err(); err != nil && !c.isTerminated() {
		c.fail(fmt.Errorf("read worker output: %w", err))
	}
}

func (c *channel) logStderr() {
	scanner := bufio.NewScanner(c.stderr)
	for scanner.Scan() {
		log.Debug().Str("workerId", c.id).Str("stream", "stderr").Msg(scanner.Text())
	}
}

func (c *channel) wait() {
	err := c.cmd.Wait()
	for _, w := range c.writers {
		_ = w.Close()
	}

	c.mu.Lock()
	reading := c.reading
	c.mu.Unlock()
	if reading {
		<-c.readDone
	}
	close(c.exited)

	if c.isTerminated() {
		return
	}
	if err == nil {
		err = errors.New("worker process exited")
	}
	c.fail(err)
}

func (c *channel) fail(err error) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(err)
		return
	}
	log.Error().Err(err).Str("workerId", c.id).Msg("Worker process failed")
}

func (c *channel) isTerminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Terminate kills the process and waits for it to exit. A write blocked on
// a busy child is interrupted.
func (c *channel) Terminate() error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil
	}
	c.terminated = true
	c.mu.Unlock()

	_ = c.stdin.Close()
	err := c.cmd.Process.Kill()
	_ = c.stdout.Close()
	_ = c.stderr.Close()
	<-c.exited

	if err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker %s: %w", c.id, err)
	}
	return nil
}
