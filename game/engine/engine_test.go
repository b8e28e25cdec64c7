package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/wricardo/gamerelay/game/connection"
	"github.com/wricardo/gamerelay/game/message"
	"github.com/wricardo/gamerelay/game/packet"
	"github.com/wricardo/gamerelay/game/session"
)

// sequence returns the given tokens in order.
type sequence struct {
	tokens []packet.Token
	err    error
}

func (s *sequence) Token() (packet.Token, error) {
	if s.err != nil {
		return 0, s.err
	}
	if len(s.tokens) == 0 {
		return 0, errors.New("sequence exhausted")
	}
	t := s.tokens[0]
	s.tokens = s.tokens[1:]
	return t, nil
}

type rejectAll struct{}

func (rejectAll) Authorize(connection.ID, packet.Token, *session.Session) bool { return false }

func newTestEngine(t *testing.T, cfg Config) (*Engine, *message.Mailbox[message.Simulation], *message.Mailbox[message.Network]) {
	t.Helper()
	inbox := message.NewMailbox[message.Simulation]()
	outbox := message.NewMailbox[message.Network]()
	cfg.Inbox = inbox
	cfg.Outbox = outbox
	cfg.Logger = zaptest.NewLogger(t)
	return New(cfg), inbox, outbox
}

func TestEngine_RequestNewSession(t *testing.T) {
	eng, inbox, outbox := newTestEngine(t, Config{Tokens: &sequence{tokens: []packet.Token{42}}})

	inbox.Send(message.RequestNewSession{ID: 7})
	eng.Step()

	msg, ok := outbox.TryRecv()
	if !ok {
		t.Fatal("Expected a reply")
	}
	ns, ok := msg.(message.NewSession)
	if !ok || ns.ID != 7 || ns.Token != 42 {
		t.Fatalf("Expected NewSession{7, 42}, got %#v", msg)
	}

	sess, err := eng.Sessions().Get(7)
	if err != nil {
		t.Fatalf("Session not recorded: %v", err)
	}
	if sess.Status != session.Pending {
		t.Errorf("Expected pending session, got %s", sess.Status)
	}
}

func TestEngine_RequestNewSession_RetriesTakenTokens(t *testing.T) {
	eng, inbox, outbox := newTestEngine(t, Config{Tokens: &sequence{tokens: []packet.Token{1, 1, 2}}})

	inbox.Send(message.RequestNewSession{ID: 1})
	inbox.Send(message.RequestNewSession{ID: 2})
	eng.Step()

	replies := outbox.Drain()
	if len(replies) != 2 {
		t.Fatalf("Expected 2 replies, got %d", len(replies))
	}
	second := replies[1].(message.NewSession)
	if second.ID != 2 || second.Token != 2 {
		t.Errorf("Expected connection 2 to get token 2, got %#v", second)
	}
}

func TestEngine_RequestNewSession_SourceFailure(t *testing.T) {
	eng, inbox, outbox := newTestEngine(t, Config{Tokens: &sequence{err: errors.New("entropy gone")}})

	inbox.Send(message.RequestNewSession{ID: 1})
	eng.Step()

	if outbox.Len() != 0 {
		t.Error("No reply expected when the token source fails")
	}
}

func TestEngine_AttemptAuthSession(t *testing.T) {
	t.Run("accept all", func(t *testing.T) {
		eng, inbox, outbox := newTestEngine(t, Config{})

		inbox.Send(message.AttemptAuthSession{ID: 3, Token: 123})
		eng.Step()

		msg, _ := outbox.TryRecv()
		succ, isSuccess := msg.(message.AuthSuccess)
		if !isSuccess || succ.ID != 3 || succ.Token != 123 {
			t.Fatalf("Expected AuthSuccess{3, 123}, got %#v", msg)
		}
		sess, _ := eng.Sessions().Get(3)
		if sess.Status != session.Authenticated {
			t.Errorf("Expected authenticated session, got %s", sess.Status)
		}
	})

	t.Run("authorizer rejects", func(t *testing.T) {
		eng, inbox, outbox := newTestEngine(t, Config{Auth: rejectAll{}})

		inbox.Send(message.AttemptAuthSession{ID: 3, Token: 123})
		eng.Step()

		msg, _ := outbox.TryRecv()
		if fail, isFail := msg.(message.AuthFail); !isFail || fail.ID != 3 {
			t.Fatalf("Expected AuthFail{3}, got %#v", msg)
		}
	})

	t.Run("issued only", func(t *testing.T) {
		eng, inbox, outbox := newTestEngine(t, Config{
			Auth:   IssuedOnly{},
			Tokens: &sequence{tokens: []packet.Token{500}},
		})

		inbox.Send(message.RequestNewSession{ID: 1})
		inbox.Send(message.AttemptAuthSession{ID: 1, Token: 499})
		inbox.Send(message.AttemptAuthSession{ID: 1, Token: 500})
		eng.Step()

		replies := outbox.Drain()
		if len(replies) != 3 {
			t.Fatalf("Expected 3 replies, got %d", len(replies))
		}
		if _, isFail := replies[1].(message.AuthFail); !isFail {
			t.Errorf("Wrong token should fail, got %#v", replies[1])
		}
		if _, isSuccess := replies[2].(message.AuthSuccess); !isSuccess {
			t.Errorf("Issued token should succeed, got %#v", replies[2])
		}
	})

	t.Run("shared token accepted", func(t *testing.T) {
		eng, inbox, outbox := newTestEngine(t, Config{})

		inbox.Send(message.AttemptAuthSession{ID: 1, Token: 123})
		inbox.Send(message.AttemptAuthSession{ID: 2, Token: 123})
		eng.Step()

		replies := outbox.Drain()
		if len(replies) != 2 {
			t.Fatalf("Expected 2 replies, got %d", len(replies))
		}
		for i, want := range []connection.ID{1, 2} {
			success, ok := replies[i].(message.AuthSuccess)
			if !ok || success.ID != want || success.Token != 123 {
				t.Errorf("Expected AuthSuccess{%d, 123}, got %#v", want, replies[i])
			}
		}
		if eng.Sessions().Count() != 2 {
			t.Errorf("Expected both sessions recorded, got %d", eng.Sessions().Count())
		}
	})
}

func TestEngine_RequestWorldState(t *testing.T) {
	eng, inbox, outbox := newTestEngine(t, Config{})

	eng.Step()
	eng.Step()
	inbox.Send(message.RequestWorldState{ID: 4})
	eng.Step()

	msg, _ := outbox.TryRecv()
	ws, ok := msg.(message.WorldState)
	if !ok || ws.ID != 4 {
		t.Fatalf("Expected WorldState for 4, got %#v", msg)
	}
	if ws.Tick != 2 {
		t.Errorf("Expected tick 2, got %d", ws.Tick)
	}
	if eng.Tick() != 3 {
		t.Errorf("Expected 3 completed ticks, got %d", eng.Tick())
	}
}

func TestEngine_ConnectionClosedReleasesSession(t *testing.T) {
	eng, inbox, _ := newTestEngine(t, Config{})

	inbox.Send(message.AttemptAuthSession{ID: 8, Token: 1})
	eng.Step()
	inbox.Send(message.ConnectionClosed{ID: 8})
	inbox.Send(message.ConnectionClosed{ID: 9})
	eng.Step()

	if eng.Sessions().Count() != 0 {
		t.Errorf("Expected no sessions, got %d", eng.Sessions().Count())
	}
}

func TestEngine_SweepsPendingSessions(t *testing.T) {
	eng, inbox, _ := newTestEngine(t, Config{
		SessionSweep: time.Millisecond,
		PendingTTL:   time.Millisecond,
		Tokens:       &sequence{tokens: []packet.Token{1}},
	})

	inbox.Send(message.RequestNewSession{ID: 1})
	eng.Step()
	if eng.Sessions().Count() != 1 {
		t.Fatal("Expected the issued session")
	}

	time.Sleep(5 * time.Millisecond)
	eng.Step()
	if eng.Sessions().Count() != 0 {
		t.Errorf("Expected the pending session to expire, got %d", eng.Sessions().Count())
	}
}

func TestEngine_Run(t *testing.T) {
	eng, inbox, outbox := newTestEngine(t, Config{Tick: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	inbox.Send(message.AttemptAuthSession{ID: 1, Token: 1})

	deadline := time.Now().Add(2 * time.Second)
	for outbox.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if outbox.Len() == 0 {
		t.Fatal("Run should wake on an incoming message")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestTokenSources(t *testing.T) {
	t.Run("bounded random stays in range", func(t *testing.T) {
		src := NewSeededBoundedRandom(0, 1)
		for i := 0; i < 1000; i++ {
			tok, err := src.Token()
			if err != nil {
				t.Fatal(err)
			}
			if uint32(tok) >= DefaultTokenSpace {
				t.Fatalf("Token %d outside [0, %d)", tok, DefaultTokenSpace)
			}
		}
	})

	t.Run("seeded source is deterministic", func(t *testing.T) {
		a, b := NewSeededBoundedRandom(100, 7), NewSeededBoundedRandom(100, 7)
		for i := 0; i < 20; i++ {
			x, _ := a.Token()
			y, _ := b.Token()
			if x != y {
				t.Fatal("Seeded sources diverged")
			}
		}
	})

	t.Run("crypto random honours max", func(t *testing.T) {
		src := CryptoRandom{Max: 10}
		for i := 0; i < 100; i++ {
			tok, err := src.Token()
			if err != nil {
				t.Fatal(err)
			}
			if tok >= 10 {
				t.Fatalf("Token %d outside [0, 10)", tok)
			}
		}
	})

	t.Run("lookup by name", func(t *testing.T) {
		if _, err := TokenSourceByName("crypto", 0); err != nil {
			t.Error(err)
		}
		if _, err := TokenSourceByName("dice", 0); err == nil {
			t.Error("Expected error for unknown source")
		}
		if _, err := AuthorizerByName("issued"); err != nil {
			t.Error(err)
		}
		if _, err := AuthorizerByName("trust-me"); err == nil {
			t.Error("Expected error for unknown auth mode")
		}
	})
}
