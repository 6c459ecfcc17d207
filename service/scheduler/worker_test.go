package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/db/dbtest"
	"github.com/KAsare1/agriconsult-server/service/consultation"
	"github.com/KAsare1/agriconsult-server/service/notifications"
	"github.com/KAsare1/agriconsult-server/service/presence"
	"github.com/rs/zerolog"
)

type stubConsultations struct {
	mu        sync.Mutex
	expires   int
	reminders int
	lead      time.Duration
	expireErr error
}

func (s *stubConsultations) ExpireStale(context.Context, time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires++
	return 0, s.expireErr
}

func (s *stubConsultations) SendReminders(_ context.Context, _ time.Time, lead time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders++
	s.lead = lead
	return 0, nil
}

func (s *stubConsultations) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expires, s.reminders
}

type countingSweeper struct{ n int }

func (c *countingSweeper) Sweep() int {
	c.n++
	return 0
}

func TestTickRunsEveryJob(t *testing.T) {
	stub := &stubConsultations{expireErr: errors.New("database is locked")}
	sweeper := &countingSweeper{}
	w := NewWorker(stub, sweeper, time.Minute, 45*time.Minute, zerolog.Nop())

	w.Tick(context.Background())

	expires, reminders := stub.calls()
	if expires != 1 || reminders != 1 {
		t.Errorf("calls = %d expire, %d remind; want 1 each", expires, reminders)
	}
	if stub.lead != 45*time.Minute {
		t.Errorf("lead = %v, want 45m", stub.lead)
	}
	if sweeper.n != 1 {
		t.Errorf("sweeps = %d, want 1", sweeper.n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	stub := &stubConsultations{}
	w := NewWorker(stub, nil, 10*time.Millisecond, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if expires, _ := stub.calls(); expires >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTickAgainstDatabase(t *testing.T) {
	gdb := dbtest.New(t)
	expert := dbtest.CreateExpert(t, gdb, "Kojo Soil", 50)
	farmer := dbtest.CreateFarmer(t, gdb, "Ama Farmer")
	now := time.Now().UTC()
	stale := dbtest.CreateConsultation(t, gdb, farmer, expert, now.Add(-time.Hour), models.StatusPending)
	soon := dbtest.CreateConsultation(t, gdb, farmer, expert, now.Add(30*time.Minute), models.StatusAccepted)

	svc := consultation.NewService(gdb, notifications.NewNotifier(gdb, zerolog.Nop(), nil, nil, nil), zerolog.Nop())
	store := presence.NewMemoryStore(time.Minute)
	w := NewWorker(svc, store, time.Minute, time.Hour, zerolog.Nop())
	w.Tick(context.Background())

	var got models.Consultation
	gdb.First(&got, stale.ID)
	if got.Status != models.StatusCancelled || got.CancelReason != consultation.ReasonExpired {
		t.Errorf("stale consultation = %s %q, want expired", got.Status, got.CancelReason)
	}
	gdb.First(&got, soon.ID)
	if !got.ReminderSent {
		t.Error("upcoming consultation was not reminded")
	}
}
