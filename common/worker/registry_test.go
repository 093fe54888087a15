package worker

import (
	"strings"
	"sync"
	"testing"
)

func TestRegistryKeying(t *testing.T) {
	tests := []struct {
		name      string
		mode      KeyMode
		wantAlive []JobID
	}{
		{"by job keeps both", KeyByJob, []JobID{"a", "b"}},
		{"by action keeps the latest", KeyByAction, []JobID{"b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(tt.mode)
			r.set(continuation{job: Job{ID: "a", Action: ActionRecognize}})
			r.set(continuation{job: Job{ID: "b", Action: ActionRecognize}})

			if r.len() != len(tt.wantAlive) {
				t.Fatalf("Expected %d pending, got %d", len(tt.wantAlive), r.len())
			}
			for _, id := range tt.wantAlive {
				c, ok := r.take(id, ActionRecognize).Get()
				if !ok {
					t.Fatalf("Expected continuation for %s", id)
				}
				if c.job.ID != id {
					t.Errorf("Expected job %s, got %s", id, c.job.ID)
				}
			}
			if r.len() != 0 {
				t.Errorf("Expected empty registry, got %d", r.len())
			}
		})
	}
}

func TestRegistryTakeRemoves(t *testing.T) {
	r := newRegistry(KeyByJob)
	r.set(continuation{job: Job{ID: "a", Action: ActionFS}})

	if r.take("a", ActionFS).IsAbsent() {
		t.Fatal("Expected first take to match")
	}
	if r.take("a", ActionFS).IsPresent() {
		t.Error("Expected second take to miss")
	}
}

func TestRegistryDropOnlyOwnEntry(t *testing.T) {
	r := newRegistry(KeyByAction)
	r.set(continuation{job: Job{ID: "a", Action: ActionFS}})
	r.set(continuation{job: Job{ID: "b", Action: ActionFS}})

	r.drop(Job{ID: "a", Action: ActionFS})
	if r.len() != 1 {
		t.Fatalf("Dropping a replaced job must keep the replacement, got %d", r.len())
	}
	r.drop(Job{ID: "b", Action: ActionFS})
	if r.len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.len())
	}
}

func TestCounterIDGenerator(t *testing.T) {
	gen := NewCounterIDGenerator("Job")

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen.Next()
			mu.Lock()
			defer mu.Unlock()
			seen[id] = struct{}{}
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Errorf("Expected 50 unique ids, got %d", len(seen))
	}

	id := NewCounterIDGenerator("Worker").Next()
	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != "Worker" || parts[1] != "0" || len(parts[2]) != 8 {
		t.Errorf("Unexpected id format %q", id)
	}
}

func TestBuildJob(t *testing.T) {
	gen := NewCounterIDGenerator("Job")

	job := BuildJob(gen, "mine", ActionDetect, nil)
	if job.ID != "mine" {
		t.Errorf("Expected explicit id, got %s", job.ID)
	}

	job = BuildJob(gen, "", ActionDetect, nil)
	if !strings.HasPrefix(string(job.ID), "Job-0-") {
		t.Errorf("Expected generated id, got %s", job.ID)
	}
	if !job.Action.Valid() || Action("ocr").Valid() {
		t.Error("Action validation mismatch")
	}
}
