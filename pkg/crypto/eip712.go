package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data.
// Binding VerifyingContract to the exchange address keeps a signature made
// for one deployment from being replayed against another.
type EIP712Domain struct {
	Name              string         // "Custodex"
	Version           string         // "1"
	ChainID           *big.Int       // 1337 for local
	VerifyingContract common.Address // exchange address
}

// DefaultDomain returns the local development domain. The verifying
// contract is filled in once the exchange address is known.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:    "Custodex",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// WithContract returns a copy of the domain bound to addr.
func (d EIP712Domain) WithContract(addr common.Address) EIP712Domain {
	d.VerifyingContract = addr
	return d
}

// TypedMessage is a struct that can be signed as EIP-712 typed data.
type TypedMessage interface {
	PrimaryType() string
	Fields() []apitypes.Type
	Message() apitypes.TypedDataMessage
}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// EIP712Signer hashes, signs and recovers typed messages under one domain
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// Domain returns the signer's domain.
func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(msg TypedMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":    domainFields,
			msg.PrimaryType(): msg.Fields(),
		},
		PrimaryType: msg.PrimaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg.Message(),
	}
}

// Hash returns the digest that should be signed for msg
func (e *EIP712Signer) Hash(msg TypedMessage) ([]byte, error) {
	typedData := e.typedData(msg)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// Sign hashes msg and signs the digest with signer
func (e *EIP712Signer) Sign(signer *Signer, msg TypedMessage) ([]byte, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", msg.PrimaryType(), err)
	}

	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", msg.PrimaryType(), err)
	}

	return signature, nil
}

// Recover returns the address that produced signature over msg
func (e *EIP712Signer) Recover(msg TypedMessage, signature []byte) (common.Address, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash %s: %w", msg.PrimaryType(), err)
	}
	return RecoverAddress(hash, signature)
}

// ToJSON renders msg in the eth_signTypedData_v4 format wallets expect.
func (e *EIP712Signer) ToJSON(msg TypedMessage) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.typedData(msg), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
