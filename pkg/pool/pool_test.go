// Unit tests for the buffer pool
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package pool

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestBuffer(t *testing.T) {
	buf := GetBuffer()
	if buf.Len() != 0 {
		t.Fatalf("fresh buffer holds %d bytes", buf.Len())
	}
	buf.WriteString("X:")
	buf.WriteByte('1')
	buf.Write([]byte(" Y:2"))
	if got := string(buf.Bytes()); got != "X:1 Y:2" {
		t.Errorf("Bytes() = %q", got)
	}
	c := buf.Cap()
	buf.Reset()
	if buf.Len() != 0 || buf.Cap() != c {
		t.Errorf("after Reset len %d cap %d, want 0 and %d", buf.Len(), buf.Cap(), c)
	}
	PutBuffer(buf)

	again := GetBuffer()
	if again.Len() != 0 {
		t.Errorf("reused buffer holds %q", again.Bytes())
	}
	PutBuffer(again)
}

func TestBufferAsEncoderTarget(t *testing.T) {
	buf := GetBuffer()
	defer PutBuffer(buf)
	if err := json.NewEncoder(buf).Encode(map[string]int{"steps": 80}); err != nil {
		t.Fatal(err)
	}
	if got := string(buf.Bytes()); got != "{\"steps\":80}\n" {
		t.Errorf("encoded %q", got)
	}
}

func TestOversizedNotPooled(t *testing.T) {
	buf := GetBuffer()
	buf.Write(make([]byte, MaxPooledSize+1))
	PutBuffer(buf)
	PutBuffer(nil)
	for i := 0; i < 10; i++ {
		b := GetBuffer()
		if b.Cap() > MaxPooledSize {
			t.Fatalf("oversized buffer came back with cap %d", b.Cap())
		}
		PutBuffer(b)
	}
}

func TestStatsCountGets(t *testing.T) {
	before := ReadStats()
	PutBuffer(GetBuffer())
	after := ReadStats()
	if after.Gets != before.Gets+1 {
		t.Errorf("gets went %d -> %d", before.Gets, after.Gets)
	}
	if after.Misses < before.Misses {
		t.Error("misses went backwards")
	}
}

func TestBufferPoolConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				b := GetBuffer()
				b.WriteByte(byte(id))
				if b.Len() != 1 {
					t.Errorf("shared buffer: len %d", b.Len())
				}
				PutBuffer(b)
			}
		}(i)
	}
	wg.Wait()
}

func BenchmarkBufferPool(b *testing.B) {
	msg := map[string]any{"jsonrpc": "2.0", "method": "notify_status_update"}
	for i := 0; i < b.N; i++ {
		buf := GetBuffer()
		json.NewEncoder(buf).Encode(msg)
		PutBuffer(buf)
	}
}
