package transaction

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/custodex/pkg/crypto"
)

var (
	tokenA   = common.HexToAddress("0x7000000000000000000000000000000000000001")
	tokenB   = common.HexToAddress("0x7000000000000000000000000000000000000002")
	exchange = common.HexToAddress("0xE000000000000000000000000000000000000001")
)

func testDomain() crypto.EIP712Domain {
	return crypto.DefaultDomain().WithContract(exchange)
}

func allCalls(from common.Address) []*Call {
	return []*Call{
		NewApprove(from, tokenA, exchange, big.NewInt(100), 1),
		NewTransfer(from, tokenA, common.HexToAddress("0xAA"), big.NewInt(5), 2),
		NewDeposit(from, tokenA, big.NewInt(100), 3),
		NewWithdraw(from, tokenA, big.NewInt(10), 4),
		NewCreateOrder(from, tokenB, big.NewInt(1), tokenA, big.NewInt(2), 5),
		NewCancelOrder(from, 1, 6),
		NewFillOrder(from, 2, 7),
	}
}

func TestSignVerifyEveryType(t *testing.T) {
	key, _ := crypto.GenerateKey()
	eip := crypto.NewEIP712Signer(testDomain())
	v := NewVerifier(testDomain())

	for _, call := range allCalls(key.Address()) {
		t.Run(string(call.Type), func(t *testing.T) {
			tx, err := Sign(eip, key, call)
			if err != nil {
				t.Fatalf("sign failed: %v", err)
			}
			raw, err := tx.Serialize()
			if err != nil {
				t.Fatalf("serialize failed: %v", err)
			}

			got, err := v.VerifyRaw(raw)
			if err != nil {
				t.Fatalf("verify failed: %v", err)
			}
			if got.Type != call.Type || got.From != call.From || got.Nonce != call.Nonce {
				t.Errorf("decoded header = %s/%s/%d, want %s/%s/%d",
					got.Type, got.From.Hex(), got.Nonce, call.Type, call.From.Hex(), call.Nonce)
			}
			if got.Token != call.Token || got.To != call.To || got.OrderID != call.OrderID {
				t.Errorf("decoded body mismatch: %+v vs %+v", got, call)
			}
			if call.Amount != nil && got.Amount.Cmp(call.Amount) != 0 {
				t.Errorf("amount = %s, want %s", got.Amount, call.Amount)
			}
			if call.AmountWanted != nil && (got.AmountWanted.Cmp(call.AmountWanted) != 0 || got.AmountOffered.Cmp(call.AmountOffered) != 0) {
				t.Errorf("order amounts mismatch: %+v", got)
			}
		})
	}
}

func TestVerifyRejectsForgery(t *testing.T) {
	alice, _ := crypto.GenerateKey()
	mallory, _ := crypto.GenerateKey()
	eip := crypto.NewEIP712Signer(testDomain())
	v := NewVerifier(testDomain())

	tx, err := Sign(eip, alice, NewWithdraw(alice.Address(), tokenA, big.NewInt(10), 1))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	// Mallory claims to be alice with her own signature
	forged := NewWithdraw(alice.Address(), tokenA, big.NewInt(10), 1)
	sig, _ := eip.Sign(mallory, forged)
	ftx := forged.Encode()
	ftx.Signature = crypto.EncodeSignature(sig)
	if _, err := v.Verify(ftx); !errors.Is(err, ErrSignerMismatch) {
		t.Errorf("forged from: err = %v, want ErrSignerMismatch", err)
	}

	// Amount changed after signing
	tampered := *tx
	tampered.Withdraw = &CustodyPayload{Token: tokenA.Hex(), Amount: "11"}
	if _, err := v.Verify(&tampered); !errors.Is(err, ErrSignerMismatch) {
		t.Errorf("tampered amount: err = %v, want ErrSignerMismatch", err)
	}

	// Signed for another exchange deployment
	other := NewVerifier(crypto.DefaultDomain().WithContract(common.HexToAddress("0xE2")))
	if _, err := other.Verify(tx); !errors.Is(err, ErrSignerMismatch) {
		t.Errorf("cross-domain replay: err = %v, want ErrSignerMismatch", err)
	}

	// Garbage signature
	bad := *tx
	bad.Signature = "0x1234"
	if _, err := v.Verify(&bad); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("short signature: err = %v, want ErrInvalidSignature", err)
	}

	if _, err := Sign(eip, mallory, NewWithdraw(alice.Address(), tokenA, big.NewInt(1), 1)); !errors.Is(err, ErrSignerMismatch) {
		t.Errorf("signing for another account: err = %v, want ErrSignerMismatch", err)
	}
}

func TestParseTransactionValidation(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"not json", `O:GTC:BTC`},
		{"missing type", `{"from":"0x01","signature":"0x00"}`},
		{"missing from", `{"type":"deposit","signature":"0x00","deposit":{"token":"0x01","amount":"1"}}`},
		{"missing signature", `{"type":"deposit","from":"0x01","deposit":{"token":"0x01","amount":"1"}}`},
		{"unknown type", `{"type":"mint","from":"0x01","signature":"0x00"}`},
		{"payload mismatch", `{"type":"withdraw","from":"0x01","signature":"0x00","deposit":{"token":"0x01","amount":"1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTransaction([]byte(tt.json)); !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestDecodeRejectsBadFields(t *testing.T) {
	from := common.HexToAddress("0xAA00000000000000000000000000000000000000").Hex()
	tests := []struct {
		name string
		tx   SignedTransaction
	}{
		{"bad from", SignedTransaction{Type: TxTypeDeposit, From: "alice", Signature: "0x",
			Deposit: &CustodyPayload{Token: tokenA.Hex(), Amount: "1"}}},
		{"bad token", SignedTransaction{Type: TxTypeDeposit, From: from, Signature: "0x",
			Deposit: &CustodyPayload{Token: "0x123", Amount: "1"}}},
		{"negative amount", SignedTransaction{Type: TxTypeWithdraw, From: from, Signature: "0x",
			Withdraw: &CustodyPayload{Token: tokenA.Hex(), Amount: "-1"}}},
		{"fractional amount", SignedTransaction{Type: TxTypeWithdraw, From: from, Signature: "0x",
			Withdraw: &CustodyPayload{Token: tokenA.Hex(), Amount: "0.5"}}},
		{"bad order asset", SignedTransaction{Type: TxTypeCreateOrder, From: from, Signature: "0x",
			Order: &OrderPayload{AssetWanted: "x", AmountWanted: "1", AssetOffered: tokenA.Hex(), AmountOffered: "1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.tx.Decode(); !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestTypedMessageFields(t *testing.T) {
	for _, call := range allCalls(common.HexToAddress("0xAA")) {
		msg := call.Message()
		for _, f := range call.Fields() {
			if _, ok := msg[f.Name]; !ok {
				t.Errorf("%s: message missing field %q", call.PrimaryType(), f.Name)
			}
		}
		if len(msg) != len(call.Fields()) {
			t.Errorf("%s: message has %d entries, type declares %d", call.PrimaryType(), len(msg), len(call.Fields()))
		}
	}
}
