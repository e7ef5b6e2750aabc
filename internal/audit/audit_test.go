package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var testTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type memSink struct {
	mu   sync.Mutex
	recs []Record
}

func (s *memSink) Append(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, *rec)
	return nil
}

func (s *memSink) last(t *testing.T) Record {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recs) == 0 {
		t.Fatal("no records written")
	}
	return s.recs[len(s.recs)-1]
}

type failSink struct{}

func (failSink) Append(ctx context.Context, rec *Record) error {
	return errors.New("backend down")
}

type chanNotifier struct{ ch chan *Record }

func (n *chanNotifier) Notify(rec *Record) { n.ch <- rec }

func TestRecordFillsDefaults(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, WithClock(func() time.Time { return testTime }))

	r.Record(context.Background(), &Record{Action: ActionLogout})

	rec := sink.last(t)
	if rec.ID == "" {
		t.Fatal("record id not assigned")
	}
	if !rec.OccurredAt.Equal(testTime) {
		t.Fatalf("OccurredAt = %v, want clock time", rec.OccurredAt)
	}
	if rec.Result != ResultSuccess || rec.Risk != RiskLow {
		t.Fatalf("defaults not applied: result=%s risk=%s", rec.Result, rec.Risk)
	}
}

func TestRecordKeepsExplicitFields(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, WithClock(func() time.Time { return testTime }))
	earlier := testTime.Add(-time.Hour)

	r.Record(context.Background(), &Record{
		ID:         "fixed-id",
		OccurredAt: earlier,
		Action:     ActionAccessAttempt,
		Result:     ResultRejected,
		Risk:       RiskMedium,
	})

	rec := sink.last(t)
	if rec.ID != "fixed-id" || !rec.OccurredAt.Equal(earlier) {
		t.Fatalf("explicit identity overwritten: %+v", rec)
	}
	if rec.Result != ResultRejected || rec.Risk != RiskMedium {
		t.Fatalf("explicit outcome overwritten: %+v", rec)
	}
}

func TestRoleAssignmentLevelDifference(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink)

	r.Record(context.Background(), &Record{
		Action: ActionRoleAssignment,
		Actor:  Actor{PrincipalID: "a", Level: 6},
		Target: Target{PrincipalID: "b", Level: 4},
	})
	rec := sink.last(t)
	if rec.LevelDifference == nil || *rec.LevelDifference != 2 {
		t.Fatalf("level difference = %v, want 2", rec.LevelDifference)
	}
	if rec.Risk != RiskLow {
		t.Fatalf("downward assignment must stay at its declared risk, got %s", rec.Risk)
	}
}

func TestUpwardAssignmentEscalatesToCritical(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink)

	r.Record(context.Background(), &Record{
		Action: ActionRoleAssignment,
		Actor:  Actor{PrincipalID: "a", Level: 4},
		Target: Target{PrincipalID: "b", Level: 5},
		Risk:   RiskLow,
	})
	rec := sink.last(t)
	if rec.LevelDifference == nil || *rec.LevelDifference != -1 {
		t.Fatalf("level difference = %v, want -1", rec.LevelDifference)
	}
	if rec.Risk != RiskCritical {
		t.Fatalf("an upward assignment reaching the recorder must be critical, got %s", rec.Risk)
	}
}

func TestLevelDifferenceOnlyForAssignments(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink)

	r.Record(context.Background(), &Record{
		Action: ActionRoleRevocation,
		Actor:  Actor{Level: 4},
		Target: Target{Level: 5},
	})
	if rec := sink.last(t); rec.LevelDifference != nil {
		t.Fatalf("level difference computed for %s", rec.Action)
	}
}

func TestFailedSinkNeverSurfaces(t *testing.T) {
	r := NewRecorder(failSink{})
	// Must not panic and must not block; the record is diverted to the
	// diagnostic log.
	r.Record(context.Background(), &Record{Action: ActionLogin})
}

func TestNilRecordIgnored(t *testing.T) {
	r := NewRecorder(&memSink{})
	r.Record(context.Background(), nil)
}

func TestNotifierFiresForHighRisk(t *testing.T) {
	n := &chanNotifier{ch: make(chan *Record, 1)}
	r := NewRecorder(&memSink{}, WithNotifier(n))

	r.Record(context.Background(), &Record{Action: ActionIPBlocked, Risk: RiskHigh})
	select {
	case rec := <-n.ch:
		if rec.Action != ActionIPBlocked {
			t.Fatalf("notified with wrong record: %s", rec.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notifier not invoked for high risk")
	}
}

func TestNotifierSkippedForLowRisk(t *testing.T) {
	n := &chanNotifier{ch: make(chan *Record, 1)}
	r := NewRecorder(&memSink{}, WithNotifier(n))

	r.Record(context.Background(), &Record{Action: ActionLogout, Risk: RiskLow})
	select {
	case <-n.ch:
		t.Fatal("notifier invoked for low risk")
	case <-time.After(50 * time.Millisecond):
	}
}
