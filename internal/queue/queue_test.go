// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestQueue(t *testing.T, limits Limits) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path, limits)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueuePeekAck(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, DefaultLimits())

	if err := q.Enqueue(ctx, "truck-1", []byte("batch-1")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	b, ok, err := q.Peek(ctx, "truck-1")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if !ok {
		t.Fatalf("expected a batch to be present")
	}
	if string(b.Payload) != "batch-1" {
		t.Fatalf("expected batch-1, got %q", b.Payload)
	}

	if err := q.Ack(ctx, b.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	_, ok, err = q.Peek(ctx, "truck-1")
	if err != nil {
		t.Fatalf("Peek after ack: %v", err)
	}
	if ok {
		t.Fatalf("expected queue to be empty after ack")
	}
}

func TestFIFOOrdering(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, DefaultLimits())

	for _, payload := range []string{"first", "second", "third"} {
		if err := q.Enqueue(ctx, "truck-1", []byte(payload)); err != nil {
			t.Fatalf("Enqueue(%s): %v", payload, err)
		}
	}

	for _, want := range []string{"first", "second", "third"} {
		b, ok, err := q.Peek(ctx, "truck-1")
		if err != nil || !ok {
			t.Fatalf("Peek: err=%v ok=%v", err, ok)
		}
		if string(b.Payload) != want {
			t.Fatalf("expected %q, got %q", want, b.Payload)
		}
		if err := q.Ack(ctx, b.ID); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	}
}

func TestCountCapDropsOldest(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, Limits{MaxCount: 2})

	for _, payload := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, "truck-1", []byte(payload)); err != nil {
			t.Fatalf("Enqueue(%s): %v", payload, err)
		}
	}

	depth, err := q.Depth(ctx, "truck-1")
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 2 {
		t.Fatalf("expected depth 2 after cap eviction, got %d", depth)
	}

	b, ok, err := q.Peek(ctx, "truck-1")
	if err != nil || !ok {
		t.Fatalf("Peek: err=%v ok=%v", err, ok)
	}
	if string(b.Payload) != "b" {
		t.Fatalf("expected oldest-dropped FIFO to leave 'b' at head, got %q", b.Payload)
	}
}

func TestByteCapDropsOldest(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, Limits{MaxBytes: 10})

	if err := q.Enqueue(ctx, "truck-1", []byte("0123456789")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "truck-1", []byte("abcde")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	b, ok, err := q.Peek(ctx, "truck-1")
	if err != nil || !ok {
		t.Fatalf("Peek: err=%v ok=%v", err, ok)
	}
	if string(b.Payload) != "abcde" {
		t.Fatalf("expected byte cap to evict the oldest batch, got %q", b.Payload)
	}
}

func TestPeekEmptyQueue(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, DefaultLimits())

	_, ok, err := q.Peek(ctx, "truck-1")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if ok {
		t.Fatalf("expected empty queue to report ok=false")
	}
}
