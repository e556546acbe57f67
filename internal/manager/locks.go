package manager

import (
	"context"
	"sync"
)

// downloadTask serialises fetches for one (symbol, interval). The buffered
// channel is the lock; refs counts holders and waiters so idle entries can be
// dropped.
type downloadTask struct {
	ch   chan struct{}
	refs int
}

type lockTable struct {
	mu    sync.Mutex
	tasks map[string]*downloadTask
}

func newLockTable() *lockTable {
	return &lockTable{tasks: make(map[string]*downloadTask)}
}

// acquire blocks until key is free or ctx is done. The returned func releases
// the lock and must be called exactly once.
func (t *lockTable) acquire(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	task, ok := t.tasks[key]
	if !ok {
		task = &downloadTask{ch: make(chan struct{}, 1)}
		t.tasks[key] = task
	}
	task.refs++
	t.mu.Unlock()

	select {
	case task.ch <- struct{}{}:
		return func() {
			<-task.ch
			t.unref(key, task)
		}, nil
	case <-ctx.Done():
		t.unref(key, task)
		return nil, ctx.Err()
	}
}

func (t *lockTable) unref(key string, task *downloadTask) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task.refs--
	if task.refs == 0 && t.tasks[key] == task {
		delete(t.tasks, key)
	}
}

// active returns the number of keys currently held or waited on.
func (t *lockTable) active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}
