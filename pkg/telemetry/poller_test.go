package telemetry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

type fakeStatsSource struct {
	rounds [][]PortStats
	errs   []error
	call   int
}

func (f *fakeStatsSource) Name() string { return "fake" }

func (f *fakeStatsSource) Collect(ctx context.Context) ([]PortStats, error) {
	i := f.call
	f.call++
	if f.errs != nil && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.rounds[i], nil
}

func port(n uint32, name string, rx uint64) PortStats {
	return PortStats{Key: PortKey{Device: "1", Port: n}, Name: name, RxBytes: rx}
}

func TestDeltaTracker_Observe(t *testing.T) {
	tr := NewDeltaTracker(nil)
	p := port(1, "s1-eth1", 0)

	steps := []struct {
		rx      uint64
		delta   uint64
		ok      bool
		wantErr error
	}{
		{rx: 1000, ok: false},
		{rx: 1500, delta: 500, ok: true},
		{rx: 1500, delta: 0, ok: true},
		{rx: 200, ok: false, wantErr: ErrCounterReset},
		{rx: 260, delta: 60, ok: true},
	}

	for i, s := range steps {
		p.RxBytes = s.rx
		delta, ok, err := tr.Observe(p)
		if !errors.Is(err, s.wantErr) {
			t.Fatalf("step %d: error = %v, want %v", i, err, s.wantErr)
		}
		if ok != s.ok || delta != s.delta {
			t.Errorf("step %d: Observe() = (%d, %v), want (%d, %v)", i, delta, ok, s.delta, s.ok)
		}
	}
}

func TestDeltaTracker_TxCounterAndForget(t *testing.T) {
	tr := NewDeltaTracker(TxBytes)
	st := PortStats{Key: PortKey{Device: "1", Port: 2}, TxBytes: 10}

	tr.Observe(st)
	st.TxBytes = 25
	if d, ok, _ := tr.Observe(st); !ok || d != 15 {
		t.Errorf("Observe() = (%d, %v), want (15, true)", d, ok)
	}

	tr.Forget(st.Key)
	st.TxBytes = 40
	if _, ok, _ := tr.Observe(st); ok {
		t.Error("Observe() after Forget should re-baseline")
	}
}

func TestPoller_PollOnce_RoutesDeltas(t *testing.T) {
	bufs := map[string]*SampleBuffer{
		"s1-eth1": NewSampleBuffer(10),
		"s1-eth2": NewSampleBuffer(10),
	}
	resolve := func(st PortStats) (Binding, bool) {
		b, ok := bufs[st.Name]
		return Binding{ID: SourceID(st.Name), Buffer: b}, ok
	}

	src := &fakeStatsSource{
		rounds: [][]PortStats{
			{port(1, "s1-eth1", 100), port(2, "s1-eth2", 1000), port(3, "s1-eth3", 5)},
			{port(1, "s1-eth1", 300), port(2, "s1-eth2", 1100), port(3, "s1-eth3", 9)},
			nil,
			{port(1, "s1-eth1", 400), port(2, "s1-eth2", 1200)},
			{port(1, "s1-eth1", 450), port(2, "s1-eth2", 1250)},
			{port(1, "s1-eth1", 500)},
			{port(1, "s1-eth1", 510), port(2, "s1-eth2", 1400)},
			{port(1, "s1-eth1", 530), port(2, "s1-eth2", 1500)},
		},
		errs: []error{nil, nil, fmt.Errorf("%w: bad json", ErrMalformedTelemetry), nil, nil, nil, nil, nil},
	}
	obs := &recordingObserver{}
	p := NewPoller(src, resolve, []SourceID{"s1-eth1", "s1-eth2"}, nil, 0, discardLogger(), obs)

	for i := 0; i < len(src.rounds); i++ {
		p.PollOnce(context.Background())
	}

	// Round 3 failed: every baseline is dropped, round 4 re-baselines.
	// Port 2 is missing in round 6, so round 7 re-baselines it.
	if got, want := bufs["s1-eth1"].Snapshot(), []uint64{200, 50, 50, 10, 20}; !reflect.DeepEqual(got, want) {
		t.Errorf("s1-eth1 samples = %v, want %v", got, want)
	}
	if got, want := bufs["s1-eth2"].Snapshot(), []uint64{100, 50, 100}; !reflect.DeepEqual(got, want) {
		t.Errorf("s1-eth2 samples = %v, want %v", got, want)
	}
	// The failed round is a gap for each bound source, never for the device.
	if got, want := obs.gapIDs, []SourceID{"s1-eth1", "s1-eth2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("gap sources = %v, want %v", got, want)
	}
	for _, err := range obs.gaps {
		if !errors.Is(err, ErrMalformedTelemetry) {
			t.Errorf("gap error = %v, want ErrMalformedTelemetry", err)
		}
	}
}

func TestPoller_Run_ReturnsOnCancel(t *testing.T) {
	src := &fakeStatsSource{rounds: [][]PortStats{{}}}
	p := NewPoller(src, func(PortStats) (Binding, bool) { return Binding{}, false }, nil, nil, 0, discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}
