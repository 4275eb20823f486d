package trace

import (
	"sort"
	"sync"
	"time"

	"github.com/emirpasic/gods/v2/queues/circularbuffer"
	"github.com/mudler/xlog"
)

const (
	DefaultMaxItems = 100
	pending         = 256
)

type GenerationTrace struct {
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration"`
	Owner        string        `json:"owner"`
	ModelID      string        `json:"model_id"`
	Model        string        `json:"model"`
	SessionID    string        `json:"session_id"`
	MessageID    string        `json:"message_id"`
	Status       string        `json:"status"`
	Summary      string        `json:"summary"`
	Outputs      int           `json:"outputs"`
	PredictionID string        `json:"prediction_id,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Buffer keeps the most recent generation traces. Records go through a
// channel so recording never blocks a generation. A nil Buffer records
// nothing.
type Buffer struct {
	mu    sync.Mutex
	queue *circularbuffer.Queue[*GenerationTrace]
	ch    chan *GenerationTrace
	once  sync.Once
	done  chan struct{}

	// sendMu guards ch against sends after close.
	sendMu sync.Mutex
	closed bool
}

func NewBuffer(maxItems int) *Buffer {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	b := &Buffer{
		queue: circularbuffer.New[*GenerationTrace](maxItems),
		ch:    make(chan *GenerationTrace, pending),
		done:  make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Buffer) loop() {
	defer close(b.done)
	for t := range b.ch {
		b.mu.Lock()
		b.queue.Enqueue(t)
		b.mu.Unlock()
	}
}

func (b *Buffer) Record(t GenerationTrace) {
	if b == nil {
		return
	}
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	if b.closed {
		xlog.Debug("Trace buffer closed, dropping trace", "message", t.MessageID)
		return
	}
	select {
	case b.ch <- &t:
	default:
		xlog.Warn("Generation trace channel full, dropping trace", "message", t.MessageID)
	}
}

// List returns the traces, oldest first.
func (b *Buffer) List() []GenerationTrace {
	if b == nil {
		return []GenerationTrace{}
	}
	b.mu.Lock()
	ptrs := b.queue.Values()
	b.mu.Unlock()

	traces := make([]GenerationTrace, len(ptrs))
	for i, p := range ptrs {
		traces[i] = *p
	}
	sort.SliceStable(traces, func(i, j int) bool {
		return traces[i].Timestamp.Before(traces[j].Timestamp)
	})
	return traces
}

// Close stops the recorder once pending traces are stored. Later records are
// dropped.
func (b *Buffer) Close() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		b.sendMu.Lock()
		b.closed = true
		close(b.ch)
		b.sendMu.Unlock()
		<-b.done
	})
}

func TruncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
