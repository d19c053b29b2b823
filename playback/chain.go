package playback

import (
	"sync"

	"github.com/charmbracelet/log"
)

// taskChain serializes all mutating operations into one FIFO stream with
// run-to-completion semantics. It is the engine's sole serialization
// primitive: tasks submitted while another is in flight execute strictly
// after it, in submission order, and a failing task never breaks the
// chain for subsequent tasks.
type taskChain struct {
	tasks  chan chainTask
	logger *log.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

type chainTask struct {
	name string
	fn   func() error
}

func newTaskChain(buffer int, logger *log.Logger) *taskChain {
	if buffer <= 0 {
		buffer = 64
	}
	c := &taskChain{
		tasks:  make(chan chainTask, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *taskChain) run() {
	defer close(c.done)
	for task := range c.tasks {
		if err := task.fn(); err != nil {
			c.logger.Warn("task failed", "task", task.name, "err", err)
		}
	}
}

// enqueue appends a task to the chain. It reports false after close.
func (c *taskChain) enqueue(name string, fn func() error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.tasks <- chainTask{name: name, fn: fn}
	return true
}

// flush blocks until every task submitted before it has completed.
func (c *taskChain) flush() {
	barrier := make(chan struct{})
	if !c.enqueue("flush", func() error {
		close(barrier)
		return nil
	}) {
		return
	}
	<-barrier
}

// close drains the chain and stops the worker. Pending tasks still run.
func (c *taskChain) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	close(c.tasks)
	c.mu.Unlock()
	<-c.done
}
