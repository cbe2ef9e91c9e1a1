package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

var (
	_ Submitter = (*Memory)(nil)
	_ Reader    = (*Memory)(nil)
)

// Executor applies the effects of a call. Effects are only committed if it returns nil.
type Executor func(ex *Execution, call *Call) error

// Memory is an in-process ledger. It verifies signatures, executes calls using registered
// Executors and keeps objects and receipts in memory.
type Memory struct {
	mu        sync.Mutex
	executors map[string]Executor
	objects   map[ObjectID]*Object
	receipts  map[Digest]*Receipt
	waiters   map[Digest][]chan *Receipt
}

// NewMemory instantiates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		executors: make(map[string]Executor),
		objects:   make(map[ObjectID]*Object),
		receipts:  make(map[Digest]*Receipt),
		waiters:   make(map[Digest][]chan *Receipt),
	}
}

// Register makes function callable by transactions submitted to this ledger.
func (m *Memory) Register(function string, exec Executor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executors[function] = exec
}

// Submit verifies and executes a signed transaction.
// Submitting an already executed transaction returns its original receipt.
func (m *Memory) Submit(ctx context.Context, stx SignedTransaction) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(stx.PublicKey) != ed25519.PublicKeySize || !ed25519.Verify(stx.PublicKey, stx.Transaction, stx.Signature) {
		return nil, ErrInvalidSignature
	}
	if AddressFromPublicKey(stx.PublicKey) != stx.Sender {
		return nil, fmt.Errorf("sender does not match public key: %w", ErrInvalidSignature)
	}
	call, err := stx.Transaction.Decode()
	if err != nil {
		return nil, err
	}
	digest := digestOf(stx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if receipt, ok := m.receipts[digest]; ok {
		return receipt, nil
	}
	exec, ok := m.executors[call.Function]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, call.Function)
	}
	ex := &Execution{
		sender:  stx.Sender,
		digest:  digest,
		ledger:  m,
		staged:  make(map[ObjectID]*Object),
		deleted: make(map[ObjectID]bool),
	}
	if err := exec(ex, call); err != nil {
		logger.Debugw("Transaction execution failed", "digest", digest, "function", call.Function, "err", err)
		return nil, fmt.Errorf("execution of %s failed: %w", call.Function, err)
	}
	receipt := ex.commit()
	m.receipts[digest] = receipt
	for _, w := range m.waiters[digest] {
		w <- receipt
	}
	delete(m.waiters, digest)
	logger.Debugw("Transaction executed", "digest", digest, "function", call.Function, "created", len(receipt.Created))
	return receipt, nil
}

// WaitForTransaction blocks until the transaction with the given digest has been executed or ctx is done.
func (m *Memory) WaitForTransaction(ctx context.Context, digest Digest) (*Receipt, error) {
	m.mu.Lock()
	if receipt, ok := m.receipts[digest]; ok {
		m.mu.Unlock()
		return receipt, nil
	}
	w := make(chan *Receipt, 1)
	m.waiters[digest] = append(m.waiters[digest], w)
	m.mu.Unlock()

	select {
	case receipt := <-w:
		return receipt, nil
	case <-ctx.Done():
		m.mu.Lock()
		defer m.mu.Unlock()
		waiters := m.waiters[digest]
		for i, other := range waiters {
			if other == w {
				m.waiters[digest] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		if len(m.waiters[digest]) == 0 {
			delete(m.waiters, digest)
		}
		return nil, fmt.Errorf("waiting for transaction %s: %w", digest, ctx.Err())
	}
}

// GetObject returns a copy of the object with the given ID.
func (m *Memory) GetObject(_ context.Context, id ObjectID) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[id]
	if !ok {
		return nil, ErrObjectNotFound
	}
	clone := obj.Clone()
	return &clone, nil
}

// OwnedObjects returns copies of all objects owned by owner, ordered by ID.
func (m *Memory) OwnedObjects(_ context.Context, owner Address) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var owned []Object
	for _, obj := range m.objects {
		if obj.Owner == owner {
			owned = append(owned, obj.Clone())
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })
	return owned, nil
}

// Find returns copies of all objects of the given type for which match returns true, ordered by ID.
// A nil match selects every object of the type.
func (m *Memory) Find(_ context.Context, typ string, match func(Object) bool) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []Object
	for _, obj := range m.objects {
		if obj.Type != typ {
			continue
		}
		if match == nil || match(*obj) {
			found = append(found, obj.Clone())
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found, nil
}

// Execution stages the effects of one transaction. Executors run while the ledger is locked and
// must only use the Execution to access ledger state.
type Execution struct {
	sender  Address
	digest  Digest
	ledger  *Memory
	created []ObjectID
	mutated []ObjectID
	staged  map[ObjectID]*Object
	deleted map[ObjectID]bool
}

// Sender returns the address that signed the transaction.
func (e *Execution) Sender() Address {
	return e.sender
}

// Digest returns the digest of the executing transaction.
func (e *Execution) Digest() Digest {
	return e.digest
}

// Create stages a new object and returns its ID.
func (e *Execution) Create(owner Address, typ string, fields map[string]string) ObjectID {
	id := objectIDOf(e.digest, len(e.created))
	obj := Object{ID: id, Owner: owner, Type: typ, Version: 1, Fields: fields}.Clone()
	e.staged[id] = &obj
	e.created = append(e.created, id)
	return id
}

// Get returns a copy of the object as seen by this execution.
func (e *Execution) Get(id ObjectID) (*Object, error) {
	if e.deleted[id] {
		return nil, ErrObjectNotFound
	}
	if obj, ok := e.staged[id]; ok {
		clone := obj.Clone()
		return &clone, nil
	}
	obj, ok := e.ledger.objects[id]
	if !ok {
		return nil, ErrObjectNotFound
	}
	clone := obj.Clone()
	return &clone, nil
}

// Update stages new content for an existing object.
func (e *Execution) Update(obj Object) error {
	current, err := e.Get(obj.ID)
	if err != nil {
		return err
	}
	updated := obj.Clone()
	if _, ok := e.staged[obj.ID]; !ok {
		updated.Version = current.Version + 1
		e.mutated = append(e.mutated, obj.ID)
	}
	e.staged[obj.ID] = &updated
	return nil
}

// Delete stages the removal of an object.
func (e *Execution) Delete(id ObjectID) error {
	if _, err := e.Get(id); err != nil {
		return err
	}
	delete(e.staged, id)
	e.deleted[id] = true
	return nil
}

func (e *Execution) commit() *Receipt {
	receipt := &Receipt{Digest: e.digest, Sender: e.sender}
	for _, id := range e.created {
		if e.deleted[id] {
			continue
		}
		receipt.Created = append(receipt.Created, id)
	}
	for _, id := range e.mutated {
		if e.deleted[id] {
			continue
		}
		receipt.Mutated = append(receipt.Mutated, id)
	}
	for id, obj := range e.staged {
		e.ledger.objects[id] = obj
	}
	for id := range e.deleted {
		if _, existed := e.ledger.objects[id]; existed {
			receipt.Deleted = append(receipt.Deleted, id)
		}
		delete(e.ledger.objects, id)
	}
	sort.Slice(receipt.Deleted, func(i, j int) bool { return receipt.Deleted[i] < receipt.Deleted[j] })
	return receipt
}

func digestOf(stx SignedTransaction) Digest {
	h, _ := blake2b.New256(nil)
	h.Write(stx.Transaction)
	h.Write(stx.Signature)
	return Digest(base58.Encode(h.Sum(nil)))
}

func objectIDOf(digest Digest, index int) ObjectID {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(digest))
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(index))
	h.Write(idx[:])
	return ObjectID("0x" + hex.EncodeToString(h.Sum(nil)))
}
