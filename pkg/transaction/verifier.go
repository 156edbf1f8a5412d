package transaction

import (
	"fmt"

	"github.com/uhyunpark/custodex/pkg/crypto"
)

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Domain returns the EIP-712 domain signatures are checked against.
func (v *Verifier) Domain() crypto.EIP712Domain { return v.eip712Signer.Domain() }

// Verify decodes tx and checks that its signature recovers to tx.From.
// The returned Call is safe to apply; the nonce is not checked here.
func (v *Verifier) Verify(tx *SignedTransaction) (*Call, error) {
	call, err := tx.Decode()
	if err != nil {
		return nil, err
	}

	sigBytes, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	signer, err := v.eip712Signer.Recover(call, sigBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != call.From {
		return nil, fmt.Errorf("%w: recovered %s, from %s", ErrSignerMismatch, signer.Hex(), call.From.Hex())
	}
	return call, nil
}

// VerifyRaw parses and verifies JSON transaction bytes
func (v *Verifier) VerifyRaw(data []byte) (*Call, error) {
	tx, err := ParseTransaction(data)
	if err != nil {
		return nil, err
	}
	return v.Verify(tx)
}
