package session

import (
	"sync"
	"testing"
	"time"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/packet"
)

func TestManager_Issue(t *testing.T) {
	manager := NewManager()

	t.Run("issue pending session", func(t *testing.T) {
		sess, err := manager.Issue(1, 100)
		if err != nil {
			t.Fatalf("Failed to issue session: %v", err)
		}
		if sess.ConnID != 1 || sess.Token != 100 {
			t.Errorf("Unexpected session %+v", sess)
		}
		if sess.Status != Pending {
			t.Errorf("Expected pending session, got %s", sess.Status)
		}
	})

	t.Run("token held by another connection", func(t *testing.T) {
		_, err := manager.Issue(2, 100)
		if err != ErrTokenInUse {
			t.Errorf("Expected ErrTokenInUse, got %v", err)
		}
	})

	t.Run("reissue replaces the previous token", func(t *testing.T) {
		if _, err := manager.Issue(1, 200); err != nil {
			t.Fatalf("Failed to reissue: %v", err)
		}
		if _, err := manager.GetByToken(100); err != ErrSessionNotFound {
			t.Errorf("Old token should be released, got %v", err)
		}
		if manager.Count() != 1 {
			t.Errorf("Expected 1 session, got %d", manager.Count())
		}
	})
}

func TestManager_Authenticate(t *testing.T) {
	manager := NewManager()

	t.Run("authenticate issued token", func(t *testing.T) {
		manager.Issue(1, 7)
		sess, err := manager.Authenticate(1, 7)
		if err != nil {
			t.Fatalf("Failed to authenticate: %v", err)
		}
		if sess.Status != Authenticated || sess.AuthenticatedAt.IsZero() {
			t.Errorf("Expected authenticated session, got %+v", sess)
		}
	})

	t.Run("authenticate without issuance", func(t *testing.T) {
		sess, err := manager.Authenticate(2, 123)
		if err != nil {
			t.Fatalf("Failed to authenticate: %v", err)
		}
		if sess.Token != 123 {
			t.Errorf("Expected token 123, got %d", sess.Token)
		}
	})

	t.Run("different token replaces pending session", func(t *testing.T) {
		manager.Issue(3, 50)
		if _, err := manager.Authenticate(3, 51); err != nil {
			t.Fatalf("Failed to authenticate: %v", err)
		}
		if _, err := manager.GetByToken(50); err != ErrSessionNotFound {
			t.Error("Issued token should be released")
		}
	})

	t.Run("shared token", func(t *testing.T) {
		sess, err := manager.Authenticate(4, 7)
		if err != nil {
			t.Fatalf("Shared token should authenticate, got %v", err)
		}
		if sess.ConnID != 4 || sess.Status != Authenticated {
			t.Errorf("Unexpected session %+v", sess)
		}
		if first, err := manager.Get(1); err != nil || first.Status != Authenticated {
			t.Errorf("First holder should keep its session, got %+v (%v)", first, err)
		}
		if owner, _ := manager.GetByToken(7); owner.ConnID != 4 {
			t.Errorf("Expected latest holder 4, got %d", owner.ConnID)
		}
	})

	t.Run("releasing a shared token keeps the other holder", func(t *testing.T) {
		if err := manager.Release(4); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		owner, err := manager.GetByToken(7)
		if err != nil || owner.ConnID != 1 {
			t.Errorf("Expected token 7 back on connection 1, got %+v (%v)", owner, err)
		}
		if _, err := manager.Issue(9, 7); err != ErrTokenInUse {
			t.Errorf("Expected ErrTokenInUse while 1 holds the token, got %v", err)
		}
	})
}

func TestManager_Get(t *testing.T) {
	manager := NewManager()
	manager.Issue(5, 55)

	t.Run("get existing session", func(t *testing.T) {
		sess, err := manager.Get(5)
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if sess.Token != 55 {
			t.Errorf("Expected token 55, got %d", sess.Token)
		}
	})

	t.Run("get by token", func(t *testing.T) {
		sess, err := manager.GetByToken(55)
		if err != nil {
			t.Fatalf("Failed to get session by token: %v", err)
		}
		if sess.ConnID != 5 {
			t.Errorf("Expected connection 5, got %d", sess.ConnID)
		}
	})

	t.Run("get non-existent session", func(t *testing.T) {
		_, err := manager.Get(999)
		if err != ErrSessionNotFound {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("returned copy is isolated", func(t *testing.T) {
		sess, _ := manager.Get(5)
		sess.Token = 0
		again, _ := manager.Get(5)
		if again.Token != 55 {
			t.Error("Mutating a returned session must not affect the registry")
		}
	})
}

func TestManager_Release(t *testing.T) {
	manager := NewManager()
	manager.Issue(1, 10)

	t.Run("release existing session", func(t *testing.T) {
		if err := manager.Release(1); err != nil {
			t.Fatalf("Failed to release session: %v", err)
		}
		if _, err := manager.Get(1); err != ErrSessionNotFound {
			t.Error("Expected session to be released")
		}
		if _, err := manager.Issue(2, 10); err != nil {
			t.Errorf("Released token should be reusable: %v", err)
		}
	})

	t.Run("release non-existent session", func(t *testing.T) {
		if err := manager.Release(42); err != ErrSessionNotFound {
			t.Errorf("Expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestManager_List(t *testing.T) {
	manager := NewManager()
	manager.Issue(3, 30)
	manager.Issue(1, 10)
	manager.Authenticate(2, 20)

	sessions := manager.List()
	if len(sessions) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(sessions))
	}
	for i, want := range []connection.ID{1, 2, 3} {
		if sessions[i].ConnID != want {
			t.Errorf("Position %d: expected connection %d, got %d", i, want, sessions[i].ConnID)
		}
	}
	if sessions[1].StatusName != "authenticated" {
		t.Errorf("Expected status name 'authenticated', got %q", sessions[1].StatusName)
	}
}

func TestManager_CleanupExpired(t *testing.T) {
	manager := NewManager()

	manager.Issue(1, 1)
	manager.Issue(2, 2)
	manager.Authenticate(3, 3)

	// Simulate an old pending session and an old authenticated one
	manager.byConn[1].IssuedAt = time.Now().Add(-2 * time.Hour)
	manager.byConn[3].IssuedAt = time.Now().Add(-2 * time.Hour)

	deleted := manager.CleanupExpiredSessions(1 * time.Hour)
	if deleted != 1 {
		t.Errorf("Expected 1 session to be deleted, got %d", deleted)
	}

	if _, err := manager.Get(1); err != ErrSessionNotFound {
		t.Error("Expected expired pending session to be deleted")
	}
	if _, err := manager.Get(2); err != nil {
		t.Error("Expected fresh pending session to still exist")
	}
	if _, err := manager.Get(3); err != nil {
		t.Error("Authenticated sessions should not expire")
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	manager := NewManager()

	var wg sync.WaitGroup
	errors := make(chan error, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			conn := connection.ID(id + 1)
			if _, err := manager.Issue(conn, packet.Token(id)); err != nil {
				errors <- err
				return
			}
			manager.List()
			if _, err := manager.Authenticate(conn, packet.Token(id)); err != nil {
				errors <- err
			}
		}(i)
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		t.Errorf("Unexpected error during concurrent access: %v", err)
	}
	if manager.Count() != 100 {
		t.Errorf("Expected 100 sessions, got %d", manager.Count())
	}
}
