// Package engine declares what the monitor consumes from a workflow execution engine.
package engine

import (
	"context"
	"io"

	"github.com/dukex/operion-monitor/pkg/refs"
)

// TokenKind discriminates engine input tokens.
type TokenKind string

const (
	TokenValue TokenKind = "value"
	TokenList  TokenKind = "list"
	TokenError TokenKind = "error"
)

// Token is the engine's native representation of a value pushed on an input port.
type Token struct {
	Kind     TokenKind `json:"kind"`
	Data     []byte    `json:"data,omitempty"`
	Charset  string    `json:"charset,omitempty"`
	Location string    `json:"location,omitempty"`
	Elements []Token   `json:"elements,omitempty"`
	Message  string    `json:"message,omitempty"`
	Trace    string    `json:"trace,omitempty"`
}

// ResultFunc receives one value produced on an output port of the workflow
// at address. Index is the iteration index for streamed or looped outputs.
type ResultFunc func(ctx context.Context, address []string, port string, index []int, ref refs.Reference)

// Engine is the execution engine a controller drives.
type Engine interface {
	Push(ctx context.Context, port string, token Token) error
	OnResult(fn ResultFunc)
	Start(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Cancel(ctx context.Context) error
}

// Resolver reads the bytes behind a set representation: file and url
// locators, and stream handles.
type Resolver interface {
	Open(ctx context.Context, representation refs.Representation) (io.ReadCloser, error)
}
