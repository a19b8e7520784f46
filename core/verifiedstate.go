package core

import "sort"

// SessionLog holds the gap-free, verified transaction history for one
// session within a CoValue. Transactions are always contiguous starting
// at Index 0; a batch that would leave a hole is rejected by
// tryAddTransactions with ErrGap before anything is mutated.
type SessionLog struct {
	Transactions []Transaction
}

// lastHashChain returns the HashChain of the most recent transaction, or
// the zero value if the log is empty.
func (l SessionLog) lastHashChain() [32]byte {
	if len(l.Transactions) == 0 {
		return [32]byte{}
	}
	return l.Transactions[len(l.Transactions)-1].HashChain
}

// VerifiedState is the authoritative, signature- and hash-chain-checked
// content of a CoValue: its header plus one gap-free SessionLog per
// session that has contributed transactions.
type VerifiedState struct {
	Header   CoValueHeader
	Sessions map[SessionID]*SessionLog
}

// fromHeader constructs an empty VerifiedState rooted at h.
func fromHeader(h CoValueHeader) *VerifiedState {
	return &VerifiedState{Header: h, Sessions: make(map[SessionID]*SessionLog)}
}

// tryAddTransactions verifies and appends txs to the named session's log.
// It never partially applies a batch: on any failure the VerifiedState is
// left unchanged and the first error encountered is returned.
//
// Each transaction is checked in this order: gap/overlap detection
// against the existing log, then hash-chain continuity, then signature.
func (vs *VerifiedState) tryAddTransactions(ctx CryptoContext, session SessionID, txs []Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	sorted := make([]Transaction, len(txs))
	copy(sorted, txs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	log, ok := vs.Sessions[session]
	if !ok {
		log = &SessionLog{}
	}
	nextIndex := uint64(len(log.Transactions))
	prevChain := log.lastHashChain()

	appended := make([]Transaction, 0, len(sorted))
	for _, tx := range sorted {
		switch {
		case tx.Index < nextIndex:
			if tx.Index >= uint64(len(log.Transactions)) {
				return ErrOverlap
			}
			existing := log.Transactions[tx.Index]
			if existing.HashChain != tx.HashChain {
				return ErrOverlap
			}
			continue
		case tx.Index > nextIndex:
			return ErrGap
		}

		want := hashChainNext(prevChain, tx.Payload)
		if want != tx.HashChain {
			return ErrBadHashChain
		}
		if ctx != nil {
			if err := ctx.VerifySignature(session.Account, tx.HashChain[:], tx.Signature); err != nil {
				return ErrBadSignature
			}
		}
		appended = append(appended, tx)
		prevChain = tx.HashChain
		nextIndex++
	}

	if len(appended) == 0 {
		return nil
	}
	log.Transactions = append(log.Transactions, appended...)
	vs.Sessions[session] = log
	return nil
}

// knownState summarizes vs as a KnownState vector for id.
func (vs *VerifiedState) knownState(id CoValueID) KnownState {
	ks := NewKnownState(id)
	ks.Header = true
	for s, log := range vs.Sessions {
		ks.Sessions[s] = uint64(len(log.Transactions))
	}
	return ks
}

// clone returns a deep copy of vs, safe for a reader holding no lock.
func (vs *VerifiedState) clone() *VerifiedState {
	out := &VerifiedState{Header: vs.Header, Sessions: make(map[SessionID]*SessionLog, len(vs.Sessions))}
	for s, log := range vs.Sessions {
		txs := make([]Transaction, len(log.Transactions))
		copy(txs, log.Transactions)
		out.Sessions[s] = &SessionLog{Transactions: txs}
	}
	return out
}

// transactionsSince returns a copy of session's transactions from index
// fromIndex onward, or nil if vs holds none at or beyond fromIndex.
func (vs *VerifiedState) transactionsSince(session SessionID, fromIndex uint64) []Transaction {
	log, ok := vs.Sessions[session]
	if !ok || fromIndex >= uint64(len(log.Transactions)) {
		return nil
	}
	out := make([]Transaction, len(log.Transactions)-int(fromIndex))
	copy(out, log.Transactions[fromIndex:])
	return out
}

// CompactionHint reports sessions whose logs are long enough to be worth
// shadowing behind a storage-level snapshot. It is read-only: no
// transactions are ever dropped from the in-memory VerifiedState, since
// session logs must stay gap-free for any peer that has not yet caught
// up. A StorageBackend may use the hint to decide when to write a
// snapshot record alongside the full log.
func (vs *VerifiedState) CompactionHint(thresholdTxCount int) []SessionID {
	var hints []SessionID
	for s, log := range vs.Sessions {
		if len(log.Transactions) >= thresholdTxCount {
			hints = append(hints, s)
		}
	}
	return hints
}
