package tasks

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRegisterConcurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Register(int64(i%3), NewTask(int64(i%3), "alice_99"))
		}(i)
	}
	wg.Wait()

	total := 0
	for chat := int64(0); chat < 3; chat++ {
		total += len(r.Pending(chat))
	}
	if total != 100 {
		t.Fatalf("registered %d tasks, want 100", total)
	}
	if r.Chats() != 3 {
		t.Fatalf("Chats() = %d, want 3", r.Chats())
	}
}

func TestGoRemovesFinishedTask(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	first := r.Go(context.Background(), 1, "alice_99", func(context.Context) { <-release })
	second := r.Go(context.Background(), 1, "bob123", func(context.Context) {})

	<-second.Done()
	pending := r.Pending(1)
	if len(pending) != 1 || pending[0] != first {
		t.Fatalf("pending = %v, want only the first task", pending)
	}

	close(release)
	<-first.Done()
	if got := r.Pending(1); len(got) != 0 {
		t.Fatalf("pending after completion = %v", got)
	}
	if r.Chats() != 0 {
		t.Fatalf("empty chat sequence was not dropped")
	}
}

func TestWait(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	r.Go(context.Background(), 5, "alice_99", func(context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); err == nil {
		t.Fatal("Wait returned before the task finished")
	}

	close(release)
	if err := r.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
