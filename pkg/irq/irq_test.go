package irq

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestCriticalExcludesDispatch(t *testing.T) {
	m := NewMask()
	var inCritical atomic.Bool
	var overlap atomic.Int32

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			m.Dispatch(func() uint32 {
				if inCritical.Load() {
					overlap.Add(1)
				}
				return 100
			})
		}
	}()
	for i := 0; i < 2000; i++ {
		Critical(m, func() {
			inCritical.Store(true)
			inCritical.Store(false)
		})
	}
	wg.Wait()
	if n := overlap.Load(); n != 0 {
		t.Errorf("handler ran inside a critical section %d times", n)
	}
}

func TestDispatchReturnsInterval(t *testing.T) {
	m := NewMask()
	if got := m.Dispatch(func() uint32 { return 2000 }); got != 2000 {
		t.Errorf("Dispatch() = %d, want 2000", got)
	}
}

func TestCriticalRestoresOnPanic(t *testing.T) {
	m := NewMask()
	func() {
		defer func() { recover() }()
		Critical(m, func() { panic("boom") })
	}()
	done := make(chan struct{})
	go func() {
		Critical(m, func() {})
		close(done)
	}()
	<-done
}

func TestNone(t *testing.T) {
	ran := false
	Critical(None{}, func() { ran = true })
	if !ran {
		t.Error("Critical did not run fn")
	}
}
