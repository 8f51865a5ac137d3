// Package persistence provides standardized error types for content tree operations.
package persistence

import (
	"errors"
	"fmt"

	"github.com/dukex/operion-monitor/pkg/models"
)

var (
	// ErrAddressPopulated indicates a write to an address that already holds a value.
	ErrAddressPopulated = errors.New("address already populated")

	// ErrInvalidAddress indicates an empty or malformed address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidNode indicates a node that cannot be stored (nil or missing kind).
	ErrInvalidNode = errors.New("invalid content node")
)

// NodeError wraps content node errors with the operation and address.
type NodeError struct {
	Op      string         // Operation being performed (e.g., "Insert", "Node")
	Address models.Address // Address if applicable
	Err     error          // Underlying error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s operation failed for address %s: %v", e.Op, e.Address, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for node errors.
func (e *NodeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewNodeError creates a new node error with context.
func NewNodeError(op string, addr models.Address, err error) *NodeError {
	return &NodeError{Op: op, Address: addr, Err: err}
}

// IsAddressPopulated checks if an error indicates a write-once violation.
func IsAddressPopulated(err error) bool {
	return errors.Is(err, ErrAddressPopulated)
}

// ValidateNode checks what every backend requires before writing.
func ValidateNode(node *models.ContentNode) error {
	if node == nil || node.Kind == "" || node.Kind == models.NodeKindMissing {
		return ErrInvalidNode
	}

	return ValidateAddress(node.Address)
}

// ValidateAddress rejects empty addresses and path traversal segments.
func ValidateAddress(addr models.Address) error {
	if addr == "" {
		return ErrInvalidAddress
	}

	for _, segment := range splitAddress(addr) {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
	}

	return nil
}
