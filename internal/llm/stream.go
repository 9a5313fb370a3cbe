package llm

import (
	"context"
	"io"
	"sync"
)

// chunkStream adapts a producer goroutine into the Stream interface.
// The producer writes chunks to the channel and returns when the provider
// stream is exhausted; its error (if any) is surfaced from Recv after all
// buffered chunks have been drained.
type chunkStream struct {
	chunks chan Chunk
	err    error
	done   chan struct{}

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewChunkStream runs produce in a goroutine and returns a Stream fed by it.
// Cancelling the passed context (or calling Close) stops the producer.
func NewChunkStream(ctx context.Context, produce func(ctx context.Context, chunks chan<- Chunk) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chunkStream{
		chunks: make(chan Chunk, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(s.done)
		defer close(s.chunks)
		s.err = produce(ctx, s.chunks)
	}()
	return s
}

func (s *chunkStream) Recv() (Chunk, error) {
	chunk, ok := <-s.chunks
	if !ok {
		<-s.done
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{}, io.EOF
	}
	return chunk, nil
}

func (s *chunkStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		// Drain so the producer can finish and release resources.
		go func() {
			for range s.chunks {
			}
		}()
	})
	return nil
}
