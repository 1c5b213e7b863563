package reactor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"stepcore/pkg/irq"
)

func TestVirtualSchedule(t *testing.T) {
	v := NewVirtual()
	var times []uint64
	v.OnFire = func(now uint64) { times = append(times, now) }
	intervals := []uint32{100, 4, 2000}
	i := 0
	v.SetHandler(func() uint32 {
		next := intervals[i%len(intervals)]
		i++
		return next
	})

	if v.Step() {
		t.Fatal("Step dispatched while disabled")
	}
	v.Enable()
	for n := 0; n < 4; n++ {
		v.Step()
	}
	// First fire MinReload after Enable, then 100, then 4 raised to MinReload, then 2000.
	want := []uint64{16, 116, 132, 2132}
	for n := range want {
		if times[n] != want[n] {
			t.Fatalf("fire times = %v, want %v", times, want)
		}
	}
	if v.Fired() != 4 || v.Now() != 2132 {
		t.Errorf("Fired() = %d, Now() = %d", v.Fired(), v.Now())
	}
}

func TestVirtualRunFor(t *testing.T) {
	v := NewVirtual()
	v.SetHandler(func() uint32 { return 1000 })
	v.Enable()
	if n := v.RunFor(10016); n != 11 {
		t.Errorf("RunFor dispatched %d times, want 11", n)
	}
	if v.Now() != 10016 {
		t.Errorf("Now() = %d, want 10016", v.Now())
	}
	v.Disable()
	if n := v.RunFor(5000); n != 0 || v.Now() != 15016 {
		t.Errorf("disabled RunFor: n=%d now=%d", n, v.Now())
	}
}

func TestVirtualHandlerCanDisable(t *testing.T) {
	v := NewVirtual()
	calls := 0
	v.SetHandler(func() uint32 {
		calls++
		if calls == 3 {
			v.Disable()
		}
		return 500
	})
	v.Enable()
	if v.RunUntil(func() bool { return false }, 100) {
		t.Error("RunUntil reported done")
	}
	if calls != 3 || v.Enabled() {
		t.Errorf("calls = %d, enabled = %v", calls, v.Enabled())
	}
	v.Enable()
	v.Step()
	if calls != 4 {
		t.Errorf("re-enabled timer did not fire: calls = %d", calls)
	}
}

func TestRealtimeDispatch(t *testing.T) {
	mask := irq.NewMask()
	r := NewRealtime(mask)
	var count atomic.Int32
	r.SetHandler(func() uint32 {
		count.Add(1)
		return 2000 // 1 ms
	})
	if err := r.Run(); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	defer func() {
		r.End()
		r.Wait()
	}()

	time.Sleep(20 * time.Millisecond)
	if count.Load() != 0 {
		t.Fatal("handler ran before Enable")
	}
	r.Enable()
	time.Sleep(60 * time.Millisecond)
	r.Disable()
	n := count.Load()
	if n < 20 || n > 80 {
		t.Errorf("handler ran %d times in 60ms at 1kHz", n)
	}

	var inside bool
	irq.Critical(mask, func() { inside = true })
	if !inside {
		t.Error("critical section did not run")
	}

	time.Sleep(10 * time.Millisecond)
	settled := count.Load()
	time.Sleep(20 * time.Millisecond)
	if count.Load() != settled {
		t.Error("handler kept running after Disable")
	}
}

func TestRealtimeStartErrors(t *testing.T) {
	r := NewRealtime(irq.NewMask())
	if err := r.Run(); !errors.Is(err, ErrNoHandler) {
		t.Errorf("Run() without handler = %v", err)
	}
	boom := errors.New("boom")
	r.SetHandler(func() uint32 { return 100 })
	r.OnStart = func() error { return boom }
	if err := r.Run(); !errors.Is(err, boom) {
		t.Errorf("Run() = %v, want OnStart error", err)
	}
	r.Wait()
}
