package rtsched

import (
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"

	"stepcore/pkg/config"
	"stepcore/pkg/errors"
)

func section(t *testing.T, body string) *config.Section {
	t.Helper()
	cfg, err := config.LoadString("[realtime]\n" + body)
	if err != nil {
		t.Fatal(err)
	}
	sec, err := cfg.GetSection("realtime")
	if err != nil {
		t.Fatal(err)
	}
	return sec
}

func TestOptionsFromSection(t *testing.T) {
	tests := []struct {
		body string
		want Options
	}{
		{"", Disabled()},
		{"lock_memory: true\ncpu: 3\npriority: 80\n", Options{LockMemory: true, CPU: 3, Priority: 80}},
		{"priority: 1\n", Options{CPU: -1, Priority: 1}},
	}
	for _, tt := range tests {
		got, err := OptionsFromSection(section(t, tt.body))
		if err != nil {
			t.Errorf("%q: %v", tt.body, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%q (-want +got):\n%s", tt.body, diff)
		}
	}
}

func TestOptionsFromSectionBounds(t *testing.T) {
	for _, body := range []string{"priority: 100\n", "priority: -1\n", "cpu: -2\n", "lock_memory: maybe\n"} {
		if _, err := OptionsFromSection(section(t, body)); !errors.IsConfig(err) {
			t.Errorf("%q: err = %v, want a config error", body, err)
		}
	}
}

func TestEnabled(t *testing.T) {
	if Disabled().Enabled() {
		t.Error("Disabled() reports enabled")
	}
	if (Options{}).Enabled() != true {
		t.Error("CPU 0 pinning not counted as enabled")
	}
}

func TestApplyNothing(t *testing.T) {
	if err := Apply(Disabled()); err != nil {
		t.Errorf("Apply(Disabled()) = %v", err)
	}
}

func TestPinToCurrentCPU(t *testing.T) {
	if runtime.GOOS != "linux" {
		if err := Apply(Options{CPU: 0}); !errors.Is(err, errors.ErrUnsupported) {
			t.Errorf("Apply = %v, want UNSUPPORTED", err)
		}
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		cpus, _, err := Current()
		if err != nil || len(cpus) == 0 {
			t.Errorf("Current() = %v, %v", cpus, err)
			return
		}
		// Pinning to a CPU the thread may already use needs no privilege.
		if err := Apply(Options{CPU: cpus[0]}); err != nil {
			t.Errorf("Apply(cpu %d) = %v", cpus[0], err)
			return
		}
		got, _, err := Current()
		if err != nil || !cmp.Equal(got, []int{cpus[0]}) {
			t.Errorf("after pin: %v, %v", got, err)
		}
	}()
	<-done
}
