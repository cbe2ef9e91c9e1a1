package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

var _ Signer = (*KeySigner)(nil)

// ed25519Flag is prepended to public keys before deriving addresses from them.
const ed25519Flag = 0x00

// KeySigner signs transactions with an ed25519 key and submits them for execution.
type KeySigner struct {
	key       ed25519.PrivateKey
	address   Address
	submitter Submitter
}

// NewKeySigner instantiates a KeySigner that submits transactions signed by key to submitter.
func NewKeySigner(key ed25519.PrivateKey, submitter Submitter) (*KeySigner, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key length: %d", len(key))
	}
	if submitter == nil {
		return nil, errors.New("submitter must be specified")
	}
	return &KeySigner{
		key:       key,
		address:   AddressFromPublicKey(key.Public().(ed25519.PublicKey)),
		submitter: submitter,
	}, nil
}

// Address returns the address of the signing key.
func (s *KeySigner) Address() Address {
	return s.address
}

// Sign signs tx and submits it. The returned receipt carries the transaction digest.
func (s *KeySigner) Sign(ctx context.Context, tx Transaction) (*Receipt, error) {
	stx := SignedTransaction{
		Transaction: tx,
		Sender:      s.address,
		PublicKey:   s.key.Public().(ed25519.PublicKey),
		Signature:   ed25519.Sign(s.key, tx),
	}
	receipt, err := s.submitter.Submit(ctx, stx)
	if err != nil {
		return nil, err
	}
	logger.Debugw("Transaction signed and executed", "sender", s.address, "digest", receipt.Digest)
	return receipt, nil
}

// AddressFromPublicKey derives the ledger address of an ed25519 public key.
func AddressFromPublicKey(pub []byte) Address {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{ed25519Flag})
	h.Write(pub)
	return Address("0x" + hex.EncodeToString(h.Sum(nil)))
}
