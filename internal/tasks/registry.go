// Package tasks tracks the background download tasks running for each chat.
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task is one background unit of work started for a chat.
type Task struct {
	ID        string
	ChatID    int64
	Handle    string
	StartedAt time.Time

	done chan struct{}
}

// NewTask returns a task that has not been started yet.
func NewTask(chatID int64, handle string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Handle:    handle,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Done is closed once the task has finished and left the registry.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Registry keeps the in-flight tasks of every chat. A single lock guards the
// whole registry, so registrations from different chats serialize too.
type Registry struct {
	mu    sync.Mutex
	tasks map[int64][]*Task
	wg    sync.WaitGroup
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[int64][]*Task)}
}

// Register appends t to the sequence of chatID, creating it on first use.
func (r *Registry) Register(chatID int64, t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[chatID] = append(r.tasks[chatID], t)
}

// Go registers a new task for chatID and runs fn in its own goroutine. The
// task removes itself from the registry when fn returns.
func (r *Registry) Go(ctx context.Context, chatID int64, handle string, fn func(ctx context.Context)) *Task {
	t := NewTask(chatID, handle)
	r.wg.Add(1)
	r.Register(chatID, t)
	go func() {
		defer r.finish(t)
		fn(ctx)
	}()
	return t
}

func (r *Registry) finish(t *Task) {
	r.mu.Lock()
	seq := r.tasks[t.ChatID]
	for i, cur := range seq {
		if cur == t {
			seq = append(seq[:i:i], seq[i+1:]...)
			break
		}
	}
	if len(seq) == 0 {
		delete(r.tasks, t.ChatID)
	} else {
		r.tasks[t.ChatID] = seq
	}
	r.mu.Unlock()

	close(t.done)
	r.wg.Done()
}

// Pending returns the tasks currently registered for chatID, oldest first.
func (r *Registry) Pending(chatID int64) []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Task(nil), r.tasks[chatID]...)
}

// Chats returns the number of chats with at least one registered task.
func (r *Registry) Chats() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Wait blocks until every task started with Go has finished or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
