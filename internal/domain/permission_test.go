package domain

import (
	"encoding/json"
	"testing"
)

func TestParsePermissionTokens(t *testing.T) {
	cases := []struct {
		raw  string
		want Permission
	}{
		{`"allow_once"`, PermissionAllowOnce},
		{`"always_allow"`, PermissionAlwaysAllow},
		{`"deny_once"`, PermissionDenyOnce},
		{`"always_deny"`, PermissionAlwaysDeny},
		{`"cancel"`, PermissionCancel},
		{`"AllowOnce"`, PermissionAllowOnce},
		{`"ALWAYS_DENY"`, PermissionAlwaysDeny},
		{`"  cancel  "`, PermissionCancel},
		{`"something_else"`, PermissionAllowOnce},
	}
	for _, tc := range cases {
		if got := ParsePermission(json.RawMessage(tc.raw)); got != tc.want {
			t.Fatalf("ParsePermission(%s) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestParsePermissionActionField(t *testing.T) {
	cases := []struct {
		raw  string
		want Permission
	}{
		{`{"action":"deny_once"}`, PermissionDenyOnce},
		{`{"action":"AlwaysAllow"}`, PermissionAlwaysAllow},
		{`{"action":"bogus"}`, PermissionAllowOnce},
		{`{"other":"field"}`, PermissionAllowOnce},
		{`{}`, PermissionAllowOnce},
		{`42`, PermissionAllowOnce},
		{`null`, PermissionAllowOnce},
	}
	for _, tc := range cases {
		if got := ParsePermission(json.RawMessage(tc.raw)); got != tc.want {
			t.Fatalf("ParsePermission(%s) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestParsePermissionTokenBeatsAction(t *testing.T) {
	// A bare string is matched before any object inspection.
	if got := ParsePermission(json.RawMessage(`"deny_once"`)); got != PermissionDenyOnce {
		t.Fatalf("got %s, want deny_once", got)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	active := []RunStatus{RunStatusCreated, RunStatusInProgress, RunStatusAwaiting}
	for _, s := range active {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestGenericEventEnvelope(t *testing.T) {
	ev := GenericEvent("model_change", map[string]string{"model": "m1"})
	if ev.Type != EventTypeGeneric {
		t.Fatalf("unexpected type %s", ev.Type)
	}

	var envelope struct {
		ACPEventType string          `json:"acp_event_type"`
		Data         json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(ev.Data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.ACPEventType != "model_change" {
		t.Fatalf("unexpected event type %s", envelope.ACPEventType)
	}
}
