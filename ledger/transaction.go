package ledger

import (
	"encoding/json"
	"fmt"
)

// Call is the decoded form of a Transaction: one function invocation with string arguments.
type Call struct {
	Function string            `json:"function"`
	Args     map[string]string `json:"args"`
}

// NewTransaction serializes call into a Transaction.
func NewTransaction(call Call) (Transaction, error) {
	if call.Function == "" {
		return nil, fmt.Errorf("transaction function must be specified")
	}
	b, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return b, nil
}

// Decode deserializes the Call held by the transaction.
func (t Transaction) Decode() (*Call, error) {
	var call Call
	if err := json.Unmarshal(t, &call); err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	if call.Function == "" {
		return nil, fmt.Errorf("failed to decode transaction: missing function")
	}
	return &call, nil
}

// Arg returns the named argument, or an error if it is absent.
func (c *Call) Arg(name string) (string, error) {
	v, ok := c.Args[name]
	if !ok {
		return "", fmt.Errorf("%s: missing argument %q", c.Function, name)
	}
	return v, nil
}
