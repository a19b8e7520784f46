package core

import "testing"

func sid(account string, counter uint64) SessionID {
	return SessionID{Account: AccountOrAgentID(account), Counter: counter}
}

func TestKnownStateCombineIsCommutative(t *testing.T) {
	id := CoValueID{1}
	a := NewKnownState(id)
	a.Sessions[sid("alice", 0)] = 3

	b := NewKnownState(id)
	b.Sessions[sid("alice", 0)] = 5
	b.Sessions[sid("bob", 0)] = 2

	ab := a.Combine(b)
	ba := b.Combine(a)
	if !ab.Equal(ba) {
		t.Fatalf("combine not commutative: %+v vs %+v", ab, ba)
	}
	if ab.Sessions[sid("alice", 0)] != 5 {
		t.Fatalf("expected max(3,5)=5, got %d", ab.Sessions[sid("alice", 0)])
	}
}

func TestKnownStateCombineIsIdempotent(t *testing.T) {
	id := CoValueID{2}
	a := NewKnownState(id)
	a.Sessions[sid("alice", 0)] = 3

	once := a.Combine(a)
	twice := once.Combine(a)
	if !once.Equal(twice) {
		t.Fatalf("combine not idempotent: %+v vs %+v", once, twice)
	}
}

func TestKnownStateDiffReportsMissingCounts(t *testing.T) {
	id := CoValueID{3}
	have := NewKnownState(id)
	have.Sessions[sid("alice", 0)] = 2

	want := NewKnownState(id)
	want.Sessions[sid("alice", 0)] = 5
	want.Sessions[sid("bob", 0)] = 1

	missing, newer := have.Diff(want)
	if missing[sid("alice", 0)] != 3 {
		t.Fatalf("expected 3 missing alice txs, got %d", missing[sid("alice", 0)])
	}
	if missing[sid("bob", 0)] != 1 {
		t.Fatalf("expected 1 missing bob tx, got %d", missing[sid("bob", 0)])
	}
	if len(newer) != 0 {
		t.Fatalf("expected no newer entries when have is a strict subset of want, got %v", newer)
	}
}

func TestKnownStateDiffReportsNewerCounts(t *testing.T) {
	id := CoValueID{5}
	have := NewKnownState(id)
	have.Sessions[sid("alice", 0)] = 5
	have.Sessions[sid("carol", 0)] = 2

	remote := NewKnownState(id)
	remote.Sessions[sid("alice", 0)] = 2

	missing, newer := have.Diff(remote)
	if len(missing) != 0 {
		t.Fatalf("expected no missing entries, got %v", missing)
	}
	if newer[sid("alice", 0)] != 3 {
		t.Fatalf("expected 3 newer alice txs, got %d", newer[sid("alice", 0)])
	}
	if newer[sid("carol", 0)] != 2 {
		t.Fatalf("expected 2 newer carol txs (remote has none), got %d", newer[sid("carol", 0)])
	}
}

func TestKnownStateDiffNeverErrorsOnEmptyHave(t *testing.T) {
	id := CoValueID{4}
	have := NewKnownState(id)
	want := NewKnownState(id)
	want.Sessions[sid("alice", 0)] = 1

	missing, _ := have.Diff(want)
	if missing[sid("alice", 0)] != 1 {
		t.Fatalf("expected full count reported missing, got %d", missing[sid("alice", 0)])
	}
}
