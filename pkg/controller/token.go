package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/operion-monitor/pkg/engine"
	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
)

// ErrMissingContent indicates an input address that holds no value.
var ErrMissingContent = errors.New("content not materialized")

// TokenFromContent converts the content tree value at addr into an engine token.
func TokenFromContent(ctx context.Context, tree *persistence.ContentTree, addr models.Address) (engine.Token, error) {
	node, err := tree.Node(ctx, addr)
	if err != nil {
		return engine.Token{}, fmt.Errorf("failed to read %s: %w", addr, err)
	}

	switch node.Kind {
	case models.NodeKindLeaf:
		return engine.Token{
			Kind:     engine.TokenValue,
			Data:     node.Data,
			Charset:  node.Charset,
			Location: node.Location,
		}, nil
	case models.NodeKindList:
		elements, err := tokensFromContent(ctx, tree, node.Children)
		if err != nil {
			return engine.Token{}, err
		}

		return engine.Token{Kind: engine.TokenList, Elements: elements}, nil
	case models.NodeKindError:
		causes, err := tokensFromContent(ctx, tree, node.Causes)
		if err != nil {
			return engine.Token{}, err
		}

		return engine.Token{Kind: engine.TokenError, Message: node.Message, Trace: node.Trace, Elements: causes}, nil
	default:
		return engine.Token{}, fmt.Errorf("%w: %s", ErrMissingContent, addr)
	}
}

func tokensFromContent(ctx context.Context, tree *persistence.ContentTree, addrs []models.Address) ([]engine.Token, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	tokens := make([]engine.Token, 0, len(addrs))

	for _, addr := range addrs {
		token, err := TokenFromContent(ctx, tree, addr)
		if err != nil {
			return nil, err
		}

		tokens = append(tokens, token)
	}

	return tokens, nil
}
