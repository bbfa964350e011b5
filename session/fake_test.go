package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

type functionOutput struct {
	CallID string
	Output string
}

// fakeChannel is a scripted provider. Tests push server events with emit and
// inspect what the manager sent.
type fakeChannel struct {
	mu         sync.Mutex
	events     chan Event
	err        error
	configured []Config
	audio      [][]byte
	messages   []string
	responses  int
	outputs    []functionOutput
	closed     bool
	closeCalls int

	// appendFailures makes the next n AppendAudio calls fail.
	appendFailures int
	failMessages   bool

	// onMessage runs after a user message is accepted.
	onMessage func(text string)
	// onOutput runs after a function output is accepted.
	onOutput func(out functionOutput)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan Event, 256)}
}

func (f *fakeChannel) Configure(_ context.Context, cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = append(f.configured, cfg)
	return nil
}

func (f *fakeChannel) AppendAudio(_ context.Context, pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendFailures > 0 {
		f.appendFailures--
		return errors.New("transient write failure")
	}
	f.audio = append(f.audio, append([]byte(nil), pcm...))
	return nil
}

func (f *fakeChannel) CreateMessage(_ context.Context, role, text string) error {
	f.mu.Lock()
	if f.failMessages {
		f.mu.Unlock()
		return errors.New("write failed")
	}
	f.messages = append(f.messages, role+":"+text)
	hook := f.onMessage
	f.mu.Unlock()
	if hook != nil {
		hook(text)
	}
	return nil
}

func (f *fakeChannel) CreateResponse(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses++
	return nil
}

func (f *fakeChannel) SendFunctionOutput(_ context.Context, callID, output string) error {
	out := functionOutput{CallID: callID, Output: output}
	f.mu.Lock()
	f.outputs = append(f.outputs, out)
	hook := f.onOutput
	f.mu.Unlock()
	if hook != nil {
		hook(out)
	}
	return nil
}

func (f *fakeChannel) Events() <-chan Event { return f.events }

func (f *fakeChannel) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// emit delivers a server event.
func (f *fakeChannel) emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.events <- ev
	}
}

// drop ends the stream abnormally.
func (f *fakeChannel) drop(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.err = err
		f.closed = true
		close(f.events)
	}
}

func (f *fakeChannel) outputsCopy() []functionOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]functionOutput(nil), f.outputs...)
}

func (f *fakeChannel) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeChannel) responseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.responses
}

// fakeDialer hands out fresh fake channels and counts dials.
type fakeDialer struct {
	mu       sync.Mutex
	channels []*fakeChannel
	dials    atomic.Int32
	// failures makes the next n dials fail.
	failures atomic.Int32
	// gate, when set, blocks each dial until it receives a value.
	gate  chan struct{}
	setup func(*fakeChannel)
}

func (d *fakeDialer) Dial(ctx context.Context) (Channel, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.failures.Load() > 0 {
		d.failures.Add(-1)
		return nil, errors.New("dial tcp: connection refused")
	}
	ch := newFakeChannel()
	if d.setup != nil {
		d.setup(ch)
	}
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	return ch, nil
}

func (d *fakeDialer) last() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}

// recorder captures callback invocations.
type recorder struct {
	mu          sync.Mutex
	audio       [][]byte
	transcripts []string
	text        []string
	errs        []error
	status      []bool
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnAudio: func(pcm []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.audio = append(r.audio, append([]byte(nil), pcm...))
		},
		OnTranscript: func(text string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transcripts = append(r.transcripts, text)
		},
		OnResponseText: func(delta string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.text = append(r.text, delta)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
		OnConnectionStatus: func(connected bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.status = append(r.status, connected)
		},
	}
}

func (r *recorder) audioFrames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.audio...)
}

func (r *recorder) statuses() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.status...)
}

func (r *recorder) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) transcriptList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.transcripts...)
}

func (r *recorder) responseText() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.text...)
}
