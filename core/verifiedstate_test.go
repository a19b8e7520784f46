package core

import (
	"errors"
	"testing"
)

func buildSession(t *testing.T, payloads ...[]byte) []Transaction {
	t.Helper()
	var prev [32]byte
	txs := make([]Transaction, len(payloads))
	for i, p := range payloads {
		next := hashChainNext(prev, p)
		txs[i] = Transaction{Index: uint64(i), HashChain: next, Payload: p}
		prev = next
	}
	return txs
}

func TestTryAddTransactionsAppendsGapFree(t *testing.T) {
	h := CoValueHeader{Type: TypeCoMap}
	vs := fromHeader(h)
	session := sid("alice", 0)
	txs := buildSession(t, []byte("a"), []byte("b"), []byte("c"))

	if err := vs.tryAddTransactions(nil, session, txs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vs.Sessions[session].Transactions) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(vs.Sessions[session].Transactions))
	}
}

func TestTryAddTransactionsRejectsGap(t *testing.T) {
	h := CoValueHeader{Type: TypeCoMap}
	vs := fromHeader(h)
	session := sid("alice", 0)
	all := buildSession(t, []byte("a"), []byte("b"), []byte("c"))

	// Skip index 1, leaving a hole.
	gappy := []Transaction{all[0], all[2]}
	err := vs.tryAddTransactions(nil, session, gappy)
	if !errors.Is(err, ErrGap) {
		t.Fatalf("expected ErrGap, got %v", err)
	}
	if got := vs.knownState(HeaderID(h)).Sessions[session]; got != 0 {
		t.Fatalf("partial batch must not be applied on error, got %d transactions", got)
	}
}

func TestTryAddTransactionsRejectsBrokenHashChain(t *testing.T) {
	h := CoValueHeader{Type: TypeCoMap}
	vs := fromHeader(h)
	session := sid("alice", 0)
	txs := buildSession(t, []byte("a"))
	txs[0].HashChain[0] ^= 0xFF

	err := vs.tryAddTransactions(nil, session, txs)
	if !errors.Is(err, ErrBadHashChain) {
		t.Fatalf("expected ErrBadHashChain, got %v", err)
	}
}

func TestTryAddTransactionsIsIdempotentOnReplay(t *testing.T) {
	h := CoValueHeader{Type: TypeCoMap}
	vs := fromHeader(h)
	session := sid("alice", 0)
	txs := buildSession(t, []byte("a"), []byte("b"))

	if err := vs.tryAddTransactions(nil, session, txs); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := vs.tryAddTransactions(nil, session, txs); err != nil {
		t.Fatalf("replay of identical batch should be a no-op, got %v", err)
	}
	if len(vs.Sessions[session].Transactions) != 2 {
		t.Fatalf("replay must not duplicate transactions")
	}
}

func TestTryAddTransactionsRejectsDivergentOverlap(t *testing.T) {
	h := CoValueHeader{Type: TypeCoMap}
	vs := fromHeader(h)
	session := sid("alice", 0)
	txs := buildSession(t, []byte("a"), []byte("b"))
	if err := vs.tryAddTransactions(nil, session, txs); err != nil {
		t.Fatalf("setup: %v", err)
	}

	diverged := buildSession(t, []byte("a"), []byte("different"))
	err := vs.tryAddTransactions(nil, session, []Transaction{diverged[1]})
	if !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}
}

func TestCompactionHintReportsLongSessionsOnly(t *testing.T) {
	h := CoValueHeader{Type: TypeCoList}
	vs := fromHeader(h)
	short := sid("alice", 0)
	long := sid("bob", 0)
	if err := vs.tryAddTransactions(nil, short, buildSession(t, []byte("x"))); err != nil {
		t.Fatal(err)
	}
	if err := vs.tryAddTransactions(nil, long, buildSession(t, []byte("1"), []byte("2"), []byte("3"))); err != nil {
		t.Fatal(err)
	}

	hints := vs.CompactionHint(3)
	if len(hints) != 1 || hints[0] != long {
		t.Fatalf("expected only %v hinted, got %v", long, hints)
	}
}
