//go:build !windows

package pty

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func newShellManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	return NewManager(append([]Option{WithInterpreter("/bin/sh", "-c")}, opts...)...)
}

func start(t *testing.T, m *Manager, code string) Outcome {
	t.Helper()
	out, err := m.Start(context.Background(), code)
	if errors.Is(err, ErrSpawnFailed) {
		t.Skipf("cannot allocate a pseudo-terminal here: %v", err)
	}
	if err != nil {
		t.Fatalf("Start(%q): %v", code, err)
	}
	if !out.Batch {
		t.Cleanup(func() { m.Close(out.SessionID) })
	}
	return out
}

// normalize undoes the terminal's NL to CR-NL translation.
func normalize(s string) string { return strings.ReplaceAll(s, "\r\n", "\n") }

func TestNative_Batch(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		output  string
		success bool
	}{
		{name: "success", code: "echo hi", output: "hi\n", success: true},
		{name: "failure", code: "echo oops; exit 3", output: "oops\n", success: false},
		{name: "multiple lines", code: "echo one; echo two", output: "one\ntwo\n", success: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newShellManager(t, WithGracePeriod(time.Second))
			out := start(t, m, tt.code)
			if !out.Batch {
				t.Fatalf("expected batch outcome, got %+v", out)
			}
			if got := normalize(out.Output); got != tt.output {
				t.Errorf("output = %q, want %q", got, tt.output)
			}
			if out.Success != tt.success {
				t.Errorf("success = %t, want %t", out.Success, tt.success)
			}
		})
	}
}

func TestNative_InteractiveEcho(t *testing.T) {
	m := newShellManager(t)
	out := start(t, m, "read x; echo got:$x")
	if out.Batch {
		t.Fatalf("expected interactive outcome, got %+v", out)
	}

	if err := m.Feed(out.SessionID, "42\n"); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	got := drainUntil(t, m, out.SessionID, hasMarker)
	text := normalize(strings.Join(got, ""))
	if !strings.Contains(text, "got:42\n") {
		t.Errorf("output %q does not contain the echoed value", text)
	}
	if got[len(got)-1] != MarkerSuccess {
		t.Errorf("last chunk = %q, want success marker", got[len(got)-1])
	}

	again, err := m.Drain(out.SessionID)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if countMarkers(again) != 0 {
		t.Errorf("marker repeated: %q", again)
	}
	if st, _ := m.Status(out.SessionID); st != StateExited {
		t.Errorf("status = %q, want exited", st)
	}
}

func TestNative_InputOrder(t *testing.T) {
	m := newShellManager(t)
	out := start(t, m, "while read line; do echo \"<$line>\"; done")

	for _, in := range []string{"a\n", "b\n", "c\n"} {
		if err := m.Feed(out.SessionID, in); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	}
	got := drainUntil(t, m, out.SessionID, func(c []string) bool {
		return strings.Contains(strings.Join(c, ""), "<c>")
	})
	text := strings.Join(got, "")
	a, b, c := strings.Index(text, "<a>"), strings.Index(text, "<b>"), strings.Index(text, "<c>")
	if a < 0 || b < a || c < b {
		t.Errorf("echoes out of order in %q", text)
	}
}

func TestNative_FailureMarker(t *testing.T) {
	m := newShellManager(t)
	out := start(t, m, "read x; exit 1")
	m.Feed(out.SessionID, "\n")
	got := drainUntil(t, m, out.SessionID, hasMarker)
	if got[len(got)-1] != MarkerFailure {
		t.Errorf("last chunk = %q, want failure marker", got[len(got)-1])
	}
}

// A batch program slower than the grace period is reported as
// interactive and still completes through Drain.
func TestNative_GracePeriodBoundary(t *testing.T) {
	t.Run("slow batch becomes interactive", func(t *testing.T) {
		m := newShellManager(t, WithGracePeriod(50*time.Millisecond))
		out := start(t, m, "sleep 1; echo late")
		if out.Batch {
			t.Fatalf("expected interactive outcome, got %+v", out)
		}
		got := drainUntil(t, m, out.SessionID, hasMarker)
		if !strings.Contains(strings.Join(got, ""), "late") {
			t.Errorf("output = %q", got)
		}
	})
	t.Run("same program within a longer grace is batch", func(t *testing.T) {
		m := newShellManager(t, WithGracePeriod(3*time.Second))
		out := start(t, m, "sleep 1; echo late")
		if !out.Batch || normalize(out.Output) != "late\n" {
			t.Errorf("outcome = %+v", out)
		}
	})
}

func TestNative_CloseRunningSession(t *testing.T) {
	m := newShellManager(t)
	out := start(t, m, "sleep 30")

	begin := time.Now()
	if err := m.Close(out.SessionID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > DefaultKillWait {
		t.Errorf("Close took %s", elapsed)
	}
	if _, err := m.Status(out.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Status after Close = %v", err)
	}
}

func TestNative_Python(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not on PATH")
	}

	t.Run("batch", func(t *testing.T) {
		m := NewManager(WithGracePeriod(3 * time.Second))
		out := start(t, m, "print('hi')")
		if !out.Batch || !out.Success || normalize(out.Output) != "hi\n" {
			t.Errorf("outcome = %+v", out)
		}
	})

	t.Run("interactive", func(t *testing.T) {
		m := NewManager()
		out := start(t, m, "x=input(); print('got:'+x)")
		if out.Batch {
			t.Fatalf("expected interactive outcome, got %+v", out)
		}
		m.Feed(out.SessionID, "42\n")
		got := drainUntil(t, m, out.SessionID, hasMarker)
		if !strings.Contains(normalize(strings.Join(got, "")), "got:42\n") {
			t.Errorf("output = %q", got)
		}
		if got[len(got)-1] != MarkerSuccess {
			t.Errorf("last chunk = %q", got[len(got)-1])
		}
	})
}
