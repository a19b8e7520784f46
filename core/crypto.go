package core

// CryptoContext is the external collaborator that signs and verifies
// transaction hash-chains. The sync engine never generates or stores
// private keys; it only calls out to this interface, matching spec.md
// §1's treatment of cryptography as named-only-by-interface.
type CryptoContext interface {
	// VerifySignature reports whether sig authenticates message under
	// the signing key belonging to signer. A non-nil error means the
	// signature is invalid or the signer is unknown.
	VerifySignature(signer AccountOrAgentID, message []byte, sig []byte) error

	// Sign produces a signature over message under the local node's own
	// signing key, used when this node appends its own transactions.
	Sign(message []byte) ([]byte, error)

	// LocalAccount returns the AccountOrAgentID this context signs as.
	LocalAccount() AccountOrAgentID
}

// ed25519Context is a minimal, concrete CryptoContext used by tests and
// single-process demos. Production deployments are expected to supply a
// CryptoContext backed by whatever key-management system owns the
// user's real signing keys; this repo implements only the stdlib-backed
// reference case, since no third-party dependency in the retrieval pack
// targets plain ed25519 message signing for an external-collaborator
// interface like this one (the pack's curve libraries all serve BLS
// signature aggregation for an unrelated consensus scheme).
type ed25519Context struct {
	account AccountOrAgentID
	sign    func(message []byte) ([]byte, error)
	verify  func(signer AccountOrAgentID, message, sig []byte) error
}

// NewStaticCryptoContext builds a CryptoContext around caller-supplied
// sign/verify functions, letting tests and the CLI plug in ed25519 keys
// (or a permissive stub) without the core package depending on a
// specific key-storage format.
func NewStaticCryptoContext(account AccountOrAgentID, sign func([]byte) ([]byte, error), verify func(AccountOrAgentID, []byte, []byte) error) CryptoContext {
	return &ed25519Context{account: account, sign: sign, verify: verify}
}

func (c *ed25519Context) VerifySignature(signer AccountOrAgentID, message, sig []byte) error {
	if c.verify == nil {
		return nil
	}
	return c.verify(signer, message, sig)
}

func (c *ed25519Context) Sign(message []byte) ([]byte, error) {
	if c.sign == nil {
		return nil, nil
	}
	return c.sign(message)
}

func (c *ed25519Context) LocalAccount() AccountOrAgentID {
	return c.account
}
