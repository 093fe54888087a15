package worker

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestTerminateDoesNotWaitForSend(t *testing.T) {
	h, ch := newReadyHandle(t)

	block := make(chan struct{})
	defer close(block)
	ch.mu.Lock()
	ch.block = block
	ch.mu.Unlock()

	go h.StartJob(Job{ID: "stuck", Action: ActionFS, Payload: FSPayload{Method: "readFile", Args: []any{"/x"}}})
	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- h.Terminate()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Terminate waited for a blocked send")
	}
}

func TestTransportErrorAfterLoadIsReported(t *testing.T) {
	for i := 0; i < 50; i++ {
		ch := newFakeChannel()
		transportErrs := make(chan error, 2)
		result := startHandle(ch,
			WithErrorHandler(func(error) {}),
			WithTransportErrorHandler(func(err error) { transportErrs <- err }),
		)

		load := ch.next(t)
		ch.emit(reply(load, StatusResolve, `{}`))
		ch.fail(errors.New("worker exited"))

		var r constructed
		select {
		case r = <-result:
		case <-time.After(2 * time.Second):
			t.Fatalf("Iteration %d: timeout waiting for construction", i)
		}

		if r.err != nil {
			var terr *TransportError
			if !errors.As(r.err, &terr) {
				t.Fatalf("Iteration %d: expected *TransportError, got %v", i, r.err)
			}
		} else {
			select {
			case <-transportErrs:
			case <-time.After(2 * time.Second):
				t.Fatalf("Iteration %d: transport error after load was lost", i)
			}
		}
		if r.h != nil {
			_ = r.h.Terminate()
		}
	}
}

type dispatchObserver struct {
	recordingObserver
	dispatched chan JobID
}

func (o dispatchObserver) Dispatched(_ string, job Job) {
	o.dispatched <- job.ID
}

func TestDispatchedBeforeStartJobReturns(t *testing.T) {
	obs := dispatchObserver{dispatched: make(chan JobID, 4)}
	h, ch := newReadyHandle(t, WithObserver(obs))
	defer h.Terminate()

	h.StartJob(Job{ID: "job-d", Action: ActionFS, Payload: FSPayload{Method: "unlink", Args: []any{"/x"}}})
	select {
	case id := <-obs.dispatched:
		if id != "job-d" {
			t.Errorf("Expected job-d, got %s", id)
		}
	default:
		t.Error("Expected Dispatched to run before StartJob returned")
	}
	ch.next(t)
}

func countLogObservers(obs Observer) int {
	switch v := obs.(type) {
	case LogObserver, *LogObserver:
		return 1
	case Observers:
		n := 0
		for _, inner := range v {
			n += countLogObservers(inner)
		}
		return n
	default:
		return 0
	}
}

func TestWithObserverLogsOnce(t *testing.T) {
	obs := recordingObserver{unmatched: make(chan Message, 1)}

	tests := []struct {
		name string
		opts []Option
	}{
		{"default", nil},
		{"extra observer", []Option{WithObserver(obs)}},
		{"log observer in list", []Option{WithObserver(Observers{LogObserver{}, obs})}},
		{"log observer only", []Option{WithObserver(LogObserver{}), WithObserver(Observers{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOptions(tt.opts...)
			if n := countLogObservers(o.observer); n != 1 {
				t.Errorf("Expected 1 log observer, got %d", n)
			}
		})
	}
}

type printObserver struct {
	recordingObserver
}

func (printObserver) Settled(_ string, job Job, status Status, _ time.Duration, _ error) {
	fmt.Fprintf(os.Stdout, "settled %s %s\n", job.ID, status)
}

// TestUnhandledRejectionHelper is not a real test. It runs in a child process
// started by TestUnhandledRejectionIsFatal.
func TestUnhandledRejectionHelper(t *testing.T) {
	if os.Getenv("OCR_UNHANDLED_REJECTION") != "1" {
		return
	}

	ch := newFakeChannel()
	result := startHandle(ch, WithObserver(printObserver{}))
	load := ch.next(t)
	ch.emit(reply(load, StatusResolve, `{}`))
	r := <-result
	if r.err != nil {
		fmt.Fprintln(os.Stdout, "construction failed:", r.err)
		os.Exit(0)
	}

	r.h.StartJob(Job{ID: "job-fatal", Action: ActionRecognize, Payload: ImagePayload{Image: Image("img")}})
	env := ch.next(t)
	ch.emit(reply(env, StatusReject, `"boom"`))

	time.Sleep(5 * time.Second)
	os.Exit(0)
}

func TestUnhandledRejectionIsFatal(t *testing.T) {
	cmd := exec.Command(os.Args[0], "-test.run=TestUnhandledRejectionHelper")
	cmd.Env = append(os.Environ(), "OCR_UNHANDLED_REJECTION=1")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected the process to exit with an error, got %v (output %q)", err, stdout.String())
	}
	if exitErr.ExitCode() == 0 {
		t.Error("Expected a non-zero exit code")
	}
	if !strings.Contains(stdout.String(), "settled job-fatal reject") {
		t.Errorf("Expected the job to be rejected before the crash, got %q", stdout.String())
	}
}
