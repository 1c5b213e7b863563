//go:build linux

package rtsched

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"stepcore/pkg/errors"
)

const schedFIFO = 1

type schedParam struct {
	priority int32
}

// Apply performs the tunings in o for the calling goroutine. The goroutine
// is locked to its OS thread first and stays locked, so call Apply from
// the goroutine that will service the interrupt. Every failing tuning is
// reported; the others are still applied.
func Apply(o Options) error {
	if !o.Enabled() {
		return nil
	}
	runtime.LockOSThread()

	var errs []error
	if o.LockMemory {
		if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
			errs = append(errs, errors.HardwareError("mlockall", err))
		}
	}
	if o.CPU >= 0 {
		if err := pin(o.CPU); err != nil {
			errs = append(errs, err)
		}
	}
	if o.Priority > 0 {
		if err := setFIFO(o.Priority); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func pin(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return errors.HardwareError(fmt.Sprintf("pin to cpu %d", cpu), err)
	}
	return nil
}

func setFIFO(priority int) error {
	p := schedParam{priority: int32(priority)}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, schedFIFO, uintptr(unsafe.Pointer(&p)))
	if errno != 0 {
		return errors.HardwareError(fmt.Sprintf("SCHED_FIFO priority %d", priority), errno)
	}
	return nil
}

// Current reports the calling thread's affinity and whether it runs in
// the FIFO class.
func Current() (cpus []int, fifo bool, err error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, false, errors.HardwareError("read affinity", err)
	}
	for i := 0; i < len(set)*64; i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	policy, _, errno := unix.Syscall(unix.SYS_SCHED_GETSCHEDULER, 0, 0, 0)
	if errno != 0 {
		return cpus, false, errors.HardwareError("read scheduler", errno)
	}
	return cpus, policy == schedFIFO, nil
}
