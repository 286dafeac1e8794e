package locks

import (
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestAcquireMutualExclusion(t *testing.T) {
	m := New()
	g := m.Acquire("task:42", "a1", time.Minute, epoch)
	if !g.Granted {
		t.Fatal("first acquire should be granted")
	}
	g2 := m.Acquire("task:42", "a2", time.Minute, epoch.Add(time.Second))
	if g2.Granted {
		t.Fatal("second agent must not be granted a held lock")
	}
	if g2.Lock == nil || g2.Lock.OwnerAgentID != "a1" {
		t.Errorf("denied grant should report owner a1, got %+v", g2.Lock)
	}
}

func TestAcquireRefreshByOwner(t *testing.T) {
	m := New()
	m.Acquire("r", "a1", time.Minute, epoch)
	g := m.Acquire("r", "a1", time.Hour, epoch.Add(30*time.Second))
	if !g.Granted {
		t.Fatal("owner re-acquire should refresh")
	}
	if !g.Lock.AcquiredAt.Equal(epoch) {
		t.Errorf("acquired_at changed on refresh: %v", g.Lock.AcquiredAt)
	}
	if want := epoch.Add(30*time.Second + time.Hour); !g.Lock.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", g.Lock.ExpiresAt, want)
	}
}

func TestAcquireAfterExpiry(t *testing.T) {
	m := New()
	m.Acquire("r", "a1", time.Second, epoch)
	g := m.Acquire("r", "a2", time.Minute, epoch.Add(time.Second))
	if !g.Granted {
		t.Fatal("expired lock should be reacquirable")
	}
	if g.Lock.OwnerAgentID != "a2" {
		t.Errorf("owner = %s, want a2", g.Lock.OwnerAgentID)
	}
	if !g.Lock.AcquiredAt.Equal(epoch.Add(time.Second)) {
		t.Errorf("new holder should get fresh acquired_at")
	}
}

func TestReleaseIdempotentAndOwnerOnly(t *testing.T) {
	m := New()
	if released, err := m.Release("nothing", "a1", epoch); err != nil || released {
		t.Errorf("release of absent lock: released=%v err=%v", released, err)
	}

	m.Acquire("r", "a1", time.Minute, epoch)
	if _, err := m.Release("r", "a2", epoch); !errors.Is(err, ErrNotOwner) {
		t.Errorf("release by non-owner: got %v, want ErrNotOwner", err)
	}
	released, err := m.Release("r", "a1", epoch)
	if err != nil || !released {
		t.Fatalf("owner release: released=%v err=%v", released, err)
	}
	released, err = m.Release("r", "a1", epoch)
	if err != nil || released {
		t.Errorf("second release should be a no-op: released=%v err=%v", released, err)
	}

	m.Acquire("x", "a1", time.Second, epoch)
	if _, err := m.Release("x", "a2", epoch.Add(time.Minute)); err != nil {
		t.Errorf("release of expired lock by anyone should succeed, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	m := New()
	if l := m.Check("r", epoch); l != nil {
		t.Errorf("absent lock reported held: %+v", l)
	}
	m.Acquire("r", "a1", time.Minute, epoch)
	if l := m.Check("r", epoch.Add(59*time.Second)); l == nil || l.OwnerAgentID != "a1" {
		t.Errorf("Check() = %+v, want a1", l)
	}
	if l := m.Check("r", epoch.Add(time.Minute)); l != nil {
		t.Errorf("expired lock reported held: %+v", l)
	}
	if m.Len() != 0 {
		t.Error("Check should drop expired entries")
	}
}

func TestReleaseAll(t *testing.T) {
	m := New()
	m.Acquire("b", "a1", time.Minute, epoch)
	m.Acquire("a", "a1", time.Minute, epoch)
	m.Acquire("c", "a2", time.Minute, epoch)
	m.Acquire("old", "a1", time.Second, epoch)

	released := m.ReleaseAll("a1", epoch.Add(2*time.Second))
	if len(released) != 2 || released[0].Resource != "a" || released[1].Resource != "b" {
		t.Fatalf("ReleaseAll() = %+v", released)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestExpireAndList(t *testing.T) {
	m := New()
	m.Acquire("short", "a1", time.Second, epoch)
	m.Acquire("long", "a2", time.Hour, epoch)

	now := epoch.Add(time.Minute)
	if live := m.List(now); len(live) != 1 || live[0].Resource != "long" {
		t.Errorf("List() = %+v", live)
	}
	expired := m.Expire(now)
	if len(expired) != 1 || expired[0].Resource != "short" {
		t.Fatalf("Expire() = %+v", expired)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d after expire", m.Len())
	}
}

func TestSnapshotRestore(t *testing.T) {
	m := New()
	m.Acquire("r", "a1", time.Minute, epoch)

	m2 := New()
	if err := m2.Restore(m.Snapshot()); err != nil {
		t.Fatal(err)
	}
	if l := m2.Check("r", epoch); l == nil || l.OwnerAgentID != "a1" {
		t.Errorf("restored lock = %+v", l)
	}

	bad := m.Snapshot()
	bad["other"] = bad["r"]
	if err := New().Restore(bad); err == nil {
		t.Error("mismatched key must be rejected")
	}
}
