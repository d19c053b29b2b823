package playback

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
)

func newTestChain() *taskChain {
	return newTaskChain(16, log.New(io.Discard))
}

func TestChainRunsInSubmissionOrder(t *testing.T) {
	c := newTestChain()
	defer c.close()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		c.enqueue("task", func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	c.flush()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 50 {
		t.Fatalf("ran %d tasks, want 50", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("task %d ran at position %d", got, i)
		}
	}
}

func TestChainSurvivesFailingTask(t *testing.T) {
	c := newTestChain()
	defer c.close()

	ran := false
	c.enqueue("boom", func() error { return errors.New("boom") })
	c.enqueue("after", func() error { ran = true; return nil })
	c.flush()

	if !ran {
		t.Error("task after a failure did not run")
	}
}

func TestChainEnqueueAfterClose(t *testing.T) {
	c := newTestChain()
	c.close()

	if c.enqueue("late", func() error { return nil }) {
		t.Error("enqueue succeeded after close")
	}
}

func TestChainCloseDrainsPending(t *testing.T) {
	c := newTestChain()

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 10; i++ {
		c.enqueue("task", func() error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
	}
	c.close()

	mu.Lock()
	defer mu.Unlock()
	if ran != 10 {
		t.Errorf("ran %d tasks before close completed, want 10", ran)
	}
}

func TestChainCloseIdempotent(t *testing.T) {
	c := newTestChain()
	c.close()
	c.close()
}
