package agent

import (
	"context"
	"testing"

	"github.com/xiaohan0616/acpd/internal/domain"
	"github.com/xiaohan0616/acpd/internal/elicit"
)

func TestRegistryCachesPerSession(t *testing.T) {
	r := NewRegistry()
	built := 0
	r.Register("echo", func(string) Agent {
		built++
		return NewScripted(elicit.NewManager())
	})

	a1, err := r.Acquire("echo", "s1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	a2, err := r.Acquire("echo", "s1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if a1 != a2 {
		t.Fatal("same name+session should return the same instance")
	}

	if _, err := r.Acquire("echo", "s2"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if built != 2 {
		t.Fatalf("expected 2 constructions, got %d", built)
	}
}

func TestRegistryUnknownAgent(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Acquire("missing", "s1"); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestScriptedEmitsAndExhausts(t *testing.T) {
	s := NewScripted(elicit.NewManager(), []Step{
		Emit{Event: MessageEvent{Message: AssistantText("hi")}},
	})

	stream, err := s.Reply(context.Background(), UserText("hello"), SessionConfig{ID: "s1"})
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}

	res, ok := <-stream
	if !ok || res.Err != nil {
		t.Fatalf("expected event, got ok=%v err=%v", ok, res.Err)
	}
	if _, ok := res.Event.(MessageEvent); !ok {
		t.Fatalf("expected message event, got %T", res.Event)
	}
	if _, ok := <-stream; ok {
		t.Fatal("stream should be exhausted")
	}

	if _, err := s.Reply(context.Background(), UserText("again"), SessionConfig{ID: "s1"}); err == nil {
		t.Fatal("expected error when script is exhausted")
	}
}

func TestScriptedConfirmationWithoutPause(t *testing.T) {
	s := NewScripted(elicit.NewManager())
	err := s.HandleConfirmation(context.Background(), "nope", domain.PermissionConfirmation{
		PrincipalType: domain.PrincipalTypeTool,
		Permission:    domain.PermissionAllowOnce,
	})
	if err == nil {
		t.Fatal("expected error for unknown confirmation id")
	}
}

func TestScriptedCancelDuringPause(t *testing.T) {
	mgr := elicit.NewManager()
	s := NewScripted(mgr, []Step{
		PauseElicitation{ID: "e1", Message: "pick"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := s.Reply(ctx, UserText("hello"), SessionConfig{ID: "s1"})
	if err != nil {
		t.Fatalf("reply failed: %v", err)
	}

	// First delivery is the action-required message.
	if res, ok := <-stream; !ok || res.Err != nil {
		t.Fatalf("expected pause event, got ok=%v err=%v", ok, res.Err)
	}

	cancel()
	if _, ok := <-stream; ok {
		t.Fatal("stream should close after cancellation")
	}

	// The pending elicitation is withdrawn on cancellation.
	if err := mgr.SubmitResponse("e1", nil); err == nil {
		t.Fatal("expected pending elicitation to be cancelled")
	}
}

func TestGatesResolveExactlyOnce(t *testing.T) {
	g := NewGates()
	ch := g.Open("req-1")

	if err := g.Resolve("req-1", domain.PermissionConfirmation{Permission: domain.PermissionAllowOnce}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	got := <-ch
	if got.Permission != domain.PermissionAllowOnce {
		t.Fatalf("unexpected permission: %s", got.Permission)
	}

	if err := g.Resolve("req-1", domain.PermissionConfirmation{}); err == nil {
		t.Fatal("second resolve should fail")
	}
	if err := g.Resolve("unknown", domain.PermissionConfirmation{}); err == nil {
		t.Fatal("unknown id should fail")
	}
}

func TestGatesDroppedPauseNotResolvable(t *testing.T) {
	g := NewGates()
	g.Open("req-1")
	g.Drop("req-1")

	if err := g.Resolve("req-1", domain.PermissionConfirmation{}); err == nil {
		t.Fatal("dropped gate should not be resolvable")
	}
}

func TestGatesStandingDecisions(t *testing.T) {
	g := NewGates()

	if _, ok := g.Standing("shell"); ok {
		t.Fatal("no decision should be remembered yet")
	}

	g.Remember("shell", domain.PermissionAllowOnce)
	if _, ok := g.Standing("shell"); ok {
		t.Fatal("one-shot decisions must not persist")
	}

	g.Remember("shell", domain.PermissionAlwaysDeny)
	p, ok := g.Standing("shell")
	if !ok || p != domain.PermissionAlwaysDeny {
		t.Fatalf("expected remembered always_deny, got %s ok=%v", p, ok)
	}
}
