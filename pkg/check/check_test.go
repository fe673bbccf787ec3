package check

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

type stubCheck struct {
	name   string
	config map[string]any
}

func (s *stubCheck) Type() string { return s.name }

func (s *stubCheck) Run(context.Context) Result {
	return Result{Timestamp: time.Now(), Success: s.config["up"] == true}
}

func stub(name string) Factory {
	return func(config map[string]any) (Check, error) {
		return &stubCheck{name: name, config: config}, nil
	}
}

func TestResult_Latency(t *testing.T) {
	var zero Result
	if zero.Success || zero.Err != nil {
		t.Errorf("unexpected zero Result: %+v", zero)
	}
	if _, ok := zero.Latency(); ok {
		t.Error("zero Result should have no latency")
	}

	r := Result{Success: true, Metrics: map[string]int64{"latency_us": 1500}}
	if d, ok := r.Latency(); !ok || d != 1500*time.Microsecond {
		t.Errorf("expected 1.5ms, got %v (ok=%v)", d, ok)
	}
}

func TestRegistry_CreatePassesConfig(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("stub", stub("stub")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	chk, err := reg.Create("stub", map[string]any{"target": "10.0.0.1", "up": true})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if chk.Type() != "stub" {
		t.Errorf("expected type stub, got %q", chk.Type())
	}
	if got := chk.(*stubCheck).config["target"]; got != "10.0.0.1" {
		t.Errorf("config not passed through, target=%v", got)
	}
	if !chk.Run(context.Background()).Success {
		t.Error("expected success")
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("dup", stub("dup"))

	if err := reg.Register("dup", stub("dup")); !errors.Is(err, ErrDuplicateType) {
		t.Errorf("expected ErrDuplicateType, got %v", err)
	}
	if err := reg.Register("", stub("x")); err == nil {
		t.Error("expected error for empty name")
	}
	if err := reg.Register("nil", nil); err == nil {
		t.Error("expected error for nil factory")
	}
	if _, err := reg.Create("missing", nil); !errors.Is(err, ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}

	reg.MustRegister("bad", func(map[string]any) (Check, error) { return nil, fmt.Errorf("boom") })
	if _, err := reg.Create("bad", nil); err == nil {
		t.Error("expected factory error to propagate")
	}
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("ping", stub("ping"))
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate MustRegister")
		}
	}()
	reg.MustRegister("ping", stub("ping"))
}

func TestRegistry_TypesAndHas(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"tcp", "ping", "dns"} {
		reg.MustRegister(name, stub(name))
	}
	if got, want := reg.Types(), []string{"dns", "ping", "tcp"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}
	if !reg.Has("ping") || reg.Has("http") {
		t.Error("Has reported the wrong membership")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(2)
		name := fmt.Sprintf("type-%d", i)
		go func() {
			defer wg.Done()
			_ = reg.Register(name, stub(name))
		}()
		go func() {
			defer wg.Done()
			_, _ = reg.Create(name, nil)
			_ = reg.Types()
		}()
	}
	wg.Wait()
	if n := len(reg.Types()); n != 32 {
		t.Errorf("expected 32 types, got %d", n)
	}
}
