// Extrusion rate sampling for heater feed-forward
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package extrusion observes the extruder position so a heater controller
// can add power in proportion to recent extrusion. It only reads positions
// and never feeds back into motion.
package extrusion

import (
	"fmt"

	"stepcore/pkg/errors"
	"stepcore/pkg/segment"
)

const (
	// MaxLag is the longest lag the ring can hold, in samples.
	MaxLag = 50
	// DefaultLag is the lag used until SetLag is called.
	DefaultLag = 20
)

// PositionReader is the part of the stepper engine the sampler reads.
type PositionReader interface {
	Position(axis segment.Axis) int32
}

// Sampler keeps the forward E movement of the last few heater cycles in a
// ring and hands back the oldest entry, matching the heater's thermal lag.
// It is meant to be called once per heater cycle from a single goroutine.
type Sampler struct {
	src        PositionReader
	stepsPerMM float64

	ring [MaxLag]int32
	ptr  int
	lag  int
	last int32
}

// NewSampler creates a sampler over src. stepsPerMM converts E steps.
func NewSampler(src PositionReader, stepsPerMM float64) (*Sampler, error) {
	if src == nil {
		return nil, errors.New(errors.ErrRuntime, "extrusion: no position source")
	}
	if stepsPerMM <= 0 {
		return nil, errors.ConfigValidationError("extrusion", "steps_per_mm",
			fmt.Sprintf("%v must be positive", stepsPerMM))
	}
	return &Sampler{
		src:        src,
		stepsPerMM: stepsPerMM,
		lag:        DefaultLag,
		last:       src.Position(segment.AxisE),
	}, nil
}

// SetLag changes the ring length and clears it.
func (s *Sampler) SetLag(n int) error {
	if n < 1 || n > MaxLag {
		return errors.ConfigValidationError("extrusion", "lag",
			fmt.Sprintf("%d outside 1..%d", n, MaxLag))
	}
	s.lag = n
	s.Reset()
	return nil
}

// Lag returns the ring length.
func (s *Sampler) Lag() int { return s.lag }

// Reset empties the ring and rebases on the current position.
func (s *Sampler) Reset() {
	s.ring = [MaxLag]int32{}
	s.ptr = 0
	s.last = s.src.Position(segment.AxisE)
}

// Sample records the forward E movement since the previous call and
// returns the movement recorded lag samples ago, in millimetres.
// Retractions record zero and are not subtracted later.
func (s *Sampler) Sample() float64 {
	pos := s.src.Position(segment.AxisE)
	if pos > s.last {
		s.ring[s.ptr] = pos - s.last
		s.last = pos
	} else {
		s.ring[s.ptr] = 0
	}
	s.ptr++
	if s.ptr >= s.lag {
		s.ptr = 0
	}
	return float64(s.ring[s.ptr]) / s.stepsPerMM
}

// Term samples and scales the lagged extrusion by kc, the heater's
// extrusion gain.
func (s *Sampler) Term(kc float64) float64 {
	return s.Sample() * kc
}
