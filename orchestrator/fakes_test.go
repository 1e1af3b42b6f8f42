package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/atomic"

	"github.com/darkhz/bttnc/config"
	"github.com/darkhz/bttnc/rfcomm"
	"github.com/darkhz/bttnc/tnc"
)

// fakeBridge is an in-memory serial bridge.
//
// boundAfter holds, per bind attempt, the number of ticks after which the
// channel appears. A negative value means the channel never appears.
type fakeBridge struct {
	mu sync.Mutex

	boundAfter []int
	refused    bool
	bindErr    error

	// before is called at the start of every Terminate.
	before func()

	calls []string
	binds int
	polls int
	bound bool

	stops atomic.Int32
}

func (b *fakeBridge) record(format string, args ...any) {
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *fakeBridge) Bind(_ context.Context, channel tnc.Channel, address tnc.Address) (rfcomm.Binder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record("bind %s %s", channel, address)
	b.binds++
	b.polls = 0

	if b.bindErr != nil {
		return nil, b.bindErr
	}

	return &fakeBinder{bridge: b}, nil
}

func (b *fakeBridge) Bound(tnc.Channel) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.bound || b.binds == 0 {
		return b.bound
	}

	b.polls++

	if attempt := b.binds - 1; attempt < len(b.boundAfter) && b.boundAfter[attempt] >= 0 {
		b.bound = b.polls > b.boundAfter[attempt]
	}

	return b.bound
}

func (b *fakeBridge) Diagnose(tnc.Channel) rfcomm.Failure {
	if b.refused {
		return rfcomm.FailureRefused
	}

	return rfcomm.FailureNone
}

func (b *fakeBridge) Terminate(_ context.Context, channel tnc.Channel) error {
	if b.before != nil {
		b.before()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.record("terminate %s", channel)
	if !b.bound {
		return errors.New("no process holds the channel")
	}

	return nil
}

func (b *fakeBridge) Release(_ context.Context, channel tnc.Channel) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record("release %s", channel)
	if !b.bound {
		return errors.New("can't release device: No such device")
	}

	b.bound = false

	return nil
}

func (b *fakeBridge) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.calls)
}

func (b *fakeBridge) Count(op string) int {
	var n int

	for _, call := range b.Calls() {
		if strings.HasPrefix(call, op+" ") {
			n++
		}
	}

	return n
}

type fakeBinder struct {
	bridge *fakeBridge
	once   sync.Once
}

func (f *fakeBinder) Stop() error {
	f.once.Do(func() { f.bridge.stops.Inc() })

	return nil
}

// fakeAttacher records attach calls.
type fakeAttacher struct {
	err   error
	ports []string
}

func (f *fakeAttacher) Attach(_ context.Context, channel tnc.Channel, port string) (string, error) {
	f.ports = append(f.ports, port)
	if f.err != nil {
		return "", f.err
	}

	return channel.Interface(), nil
}

// fakeStore keeps the configuration in memory.
type fakeStore struct {
	callsign   string
	remembered []tnc.Target
}

func (f *fakeStore) Callsign() string {
	return f.callsign
}

func (f *fakeStore) Remember(target tnc.Target) error {
	callsign, err := config.NormalizeCallsign(target.Callsign)
	if err != nil {
		return err
	}

	target.Callsign = callsign
	f.callsign = callsign
	f.remembered = append(f.remembered, target)

	return nil
}

// stages records progress notifications.
type stages struct {
	started []Stage
	ticks   map[Stage]int
}

func (s *stages) Start(stage Stage) {
	s.started = append(s.started, stage)
}

func (s *stages) Tick(stage Stage, _ int) {
	if s.ticks == nil {
		s.ticks = make(map[Stage]int)
	}

	s.ticks[stage]++
}
