package chat_test

import (
	"context"
	"iter"
	"sync"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
)

type fakeText struct {
	chunks []models.Chunk
	// errAfter yields err once this many chunks were produced. Negative means never.
	errAfter int
	err      error
	// beforeChunk runs before the chunk with the given index is yielded.
	beforeChunk func(int)

	mu      sync.Mutex
	calls   int
	model   string
	text    string
	history []models.HistoryEntry
}

func newFakeText(chunks ...models.Chunk) *fakeText {
	return &fakeText{chunks: chunks, errAfter: -1}
}

func (f *fakeText) StreamResponse(
	_ context.Context,
	model string,
	text string,
	history []models.HistoryEntry,
) iter.Seq2[models.Chunk, error] {
	f.mu.Lock()
	f.calls++
	f.model = model
	f.text = text
	f.history = history
	f.mu.Unlock()

	return func(yield func(models.Chunk, error) bool) {
		for i, c := range f.chunks {
			if f.errAfter == i {
				yield(models.Chunk{}, f.err)
				return
			}
			if f.beforeChunk != nil {
				f.beforeChunk(i)
			}
			if !yield(c, nil) {
				return
			}
		}
		if f.errAfter >= len(f.chunks) {
			yield(models.Chunk{}, f.err)
		}
	}
}

type fakeEnhancer struct {
	out string
	err error

	calls int
	got   string
}

func (f *fakeEnhancer) Enhance(_ context.Context, text string) (string, error) {
	f.calls++
	f.got = text
	return f.out, f.err
}

type fakeSynthesizer struct {
	image string
	err   error
	// before runs when Synthesize is called, ahead of returning.
	before func()

	calls int
	got   string
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.got = prompt
	if f.before != nil {
		f.before()
	}
	return f.image, f.err
}

type panicText struct{}

func (panicText) StreamResponse(context.Context, string, string, []models.HistoryEntry) iter.Seq2[models.Chunk, error] {
	return func(func(models.Chunk, error) bool) {
		panic("backend exploded")
	}
}
