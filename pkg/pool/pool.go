// Reusable encode buffers
//
// Status messages are encoded many times a second for every monitor
// session; the buffers they are encoded into come from here.
//
// Usage:
//
//	buf := pool.GetBuffer()
//	defer pool.PutBuffer(buf)
//	json.NewEncoder(buf).Encode(msg)
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package pool

import (
	"sync"
	"sync/atomic"
)

const (
	initialSize = 512
	// MaxPooledSize is the largest buffer returned to the pool.
	MaxPooledSize = 64 * 1024
)

// Buffer is an append-only byte buffer.
type Buffer struct {
	buf []byte
}

var bufferPool = sync.Pool{
	New: func() any {
		misses.Add(1)
		return &Buffer{buf: make([]byte, 0, initialSize)}
	},
}

var gets, misses atomic.Uint64

// GetBuffer returns an empty buffer.
func GetBuffer() *Buffer {
	gets.Add(1)
	b := bufferPool.Get().(*Buffer)
	b.buf = b.buf[:0]
	return b
}

// PutBuffer returns b to the pool. The caller must not keep b.Bytes().
func PutBuffer(b *Buffer) {
	if b == nil || cap(b.buf) > MaxPooledSize {
		return
	}
	bufferPool.Put(b)
}

// Bytes returns the buffered data.
func (b *Buffer) Bytes() []byte { return b.buf }

// Write appends p.
func (b *Buffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteByte appends c.
func (b *Buffer) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) (int, error) {
	b.buf = append(b.buf, s...)
	return len(s), nil
}

func (b *Buffer) Len() int { return len(b.buf) }
func (b *Buffer) Cap() int { return cap(b.buf) }

// Reset empties the buffer, keeping its capacity.
func (b *Buffer) Reset() { b.buf = b.buf[:0] }

// Stats counts buffer requests and how many needed a fresh allocation.
type Stats struct {
	Gets   uint64
	Misses uint64
}

// ReadStats returns the counts since start.
func ReadStats() Stats {
	return Stats{Gets: gets.Load(), Misses: misses.Load()}
}
