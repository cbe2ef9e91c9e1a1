package ledger

import (
	"context"
	"errors"

	"github.com/ipfs/go-log/v2"
)

var (
	ErrObjectNotFound      = errors.New("no object is found with given ID")
	ErrUnknownFunction     = errors.New("transaction calls an unknown function")
	ErrInvalidSignature    = errors.New("transaction signature is invalid")
	ErrTransactionNotFound = errors.New("no transaction is found with given digest")
)

var (
	logger = log.Logger("tidepool/ledger")
)

type (
	// Digest identifies an executed transaction.
	Digest string
	// Address identifies an account on the ledger.
	Address string
	// ObjectID identifies an object on the ledger.
	ObjectID string
	// Transaction is an unsigned, serialized transaction.
	// Its content is only meaningful to the component that built it and to the ledger that executes it.
	Transaction []byte
	// SignedTransaction is a Transaction together with the sender's signature over it.
	SignedTransaction struct {
		Transaction Transaction
		Sender      Address
		PublicKey   []byte
		Signature   []byte
	}
	// Receipt describes the effects of an executed transaction.
	Receipt struct {
		Digest  Digest
		Sender  Address
		Created []ObjectID
		Mutated []ObjectID
		Deleted []ObjectID
	}
	// Object is a piece of ledger state owned by an address.
	Object struct {
		ID      ObjectID          `json:"id"`
		Owner   Address           `json:"owner"`
		Type    string            `json:"type"`
		Version uint64            `json:"version"`
		Fields  map[string]string `json:"fields"`
	}

	// Signer signs the given transaction, has it executed and returns its receipt.
	// Signing may block on user approval or network confirmation.
	Signer interface {
		Sign(context.Context, Transaction) (*Receipt, error)
	}
	// SignerFunc adapts a function to Signer.
	SignerFunc func(context.Context, Transaction) (*Receipt, error)

	// Submitter executes signed transactions.
	Submitter interface {
		Submit(context.Context, SignedTransaction) (*Receipt, error)
	}
	// Reader reads executed transactions and objects from the ledger.
	Reader interface {
		WaitForTransaction(context.Context, Digest) (*Receipt, error)
		GetObject(context.Context, ObjectID) (*Object, error)
		OwnedObjects(context.Context, Address) ([]Object, error)
	}
)

func (f SignerFunc) Sign(ctx context.Context, tx Transaction) (*Receipt, error) {
	return f(ctx, tx)
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	fields := make(map[string]string, len(o.Fields))
	for k, v := range o.Fields {
		fields[k] = v
	}
	o.Fields = fields
	return o
}
