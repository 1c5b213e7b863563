// Real-time scheduling for the step interrupt thread
//
// Locks the process's memory, pins the calling thread to one CPU and
// moves it into the FIFO scheduling class so step pulses are not delayed
// by page faults or ordinary time slicing.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package rtsched

import (
	"stepcore/pkg/config"
)

// MaxPriority is the highest FIFO priority Linux accepts.
const MaxPriority = 99

// Options selects which tunings Apply performs. Zero values skip a tuning.
type Options struct {
	LockMemory bool
	// CPU to pin the thread to; negative leaves affinity alone.
	CPU int
	// Priority in the FIFO class, 1..MaxPriority; 0 keeps the normal class.
	Priority int
}

// Disabled returns options that change nothing.
func Disabled() Options { return Options{CPU: -1} }

// Enabled reports whether o asks for any tuning.
func (o Options) Enabled() bool {
	return o.LockMemory || o.CPU >= 0 || o.Priority > 0
}

// OptionsFromSection reads a [realtime] section:
//
//	lock_memory: true
//	cpu: 3
//	priority: 80
func OptionsFromSection(sec *config.Section) (Options, error) {
	o := Disabled()
	var err error
	if o.LockMemory, err = sec.GetBool("lock_memory", false); err != nil {
		return Options{}, err
	}
	minCPU, maxPrio, zero := -1, MaxPriority, 0
	if o.CPU, err = sec.GetIntWithBounds("cpu", config.IntBounds{MinVal: &minCPU}, -1); err != nil {
		return Options{}, err
	}
	if o.Priority, err = sec.GetIntWithBounds("priority",
		config.IntBounds{MinVal: &zero, MaxVal: &maxPrio}, 0); err != nil {
		return Options{}, err
	}
	return o, nil
}
