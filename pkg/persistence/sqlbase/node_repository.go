package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
)

// NodeRepository stores content nodes in the content_nodes table. The SQL is
// shared by every dialect; only bind parameters differ.
type NodeRepository struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect Dialect
}

// NewNodeRepository creates a new content node repository.
func NewNodeRepository(db *sql.DB, logger *slog.Logger, dialect Dialect) *NodeRepository {
	return &NodeRepository{db: db, logger: logger, dialect: dialect}
}

func (r *NodeRepository) placeholders(n int) []any {
	out := make([]any, n)
	for i := range n {
		out[i] = r.dialect.Placeholder(i + 1)
	}

	return out
}

// Node loads the node stored at addr.
func (r *NodeRepository) Node(ctx context.Context, addr models.Address) (*models.ContentNode, error) {
	query := fmt.Sprintf(`
		SELECT address, kind, data, charset, location, children, message, trace, causes, created_at
		FROM content_nodes
		WHERE address = %s
	`, r.placeholders(1)...)

	var (
		node             models.ContentNode
		children, causes sql.NullString
		charset          sql.NullString
		location         sql.NullString
		message, trace   sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, string(addr)).Scan(
		&node.Address,
		&node.Kind,
		&node.Data,
		&charset,
		&location,
		&children,
		&message,
		&trace,
		&causes,
		&node.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Missing(addr), nil
		}

		return nil, fmt.Errorf("failed to query content node %s: %w", addr, err)
	}

	node.Charset = charset.String
	node.Location = location.String
	node.Message = message.String
	node.Trace = trace.String

	node.Children, err = decodeAddresses(children)
	if err != nil {
		return nil, fmt.Errorf("failed to decode children of %s: %w", addr, err)
	}

	node.Causes, err = decodeAddresses(causes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode causes of %s: %w", addr, err)
	}

	return &node, nil
}

// Insert writes a node unless the address is already populated.
func (r *NodeRepository) Insert(ctx context.Context, node *models.ContentNode) error {
	err := persistence.ValidateNode(node)
	if err != nil {
		return persistence.NewNodeError("Insert", addressOf(node), err)
	}

	children, err := encodeAddresses(node.Children)
	if err != nil {
		return fmt.Errorf("failed to encode children of %s: %w", node.Address, err)
	}

	causes, err := encodeAddresses(node.Causes)
	if err != nil {
		return fmt.Errorf("failed to encode causes of %s: %w", node.Address, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO content_nodes (address, kind, data, charset, location, children, message, trace, causes, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (address) DO NOTHING
	`, r.placeholders(10)...)

	data := node.Data
	if data == nil && node.Kind == models.NodeKindLeaf {
		data = []byte{}
	}

	result, err := r.db.ExecContext(ctx, query,
		string(node.Address),
		string(node.Kind),
		data,
		node.Charset,
		node.Location,
		children,
		node.Message,
		node.Trace,
		causes,
		node.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert content node %s: %w", node.Address, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result for %s: %w", node.Address, err)
	}

	if affected == 0 {
		return persistence.NewNodeError("Insert", node.Address, persistence.ErrAddressPopulated)
	}

	r.logger.DebugContext(ctx, "Stored content node", "address", node.Address, "kind", node.Kind)

	return nil
}

// Addresses lists populated addresses at or below prefix.
func (r *NodeRepository) Addresses(ctx context.Context, prefix models.Address) ([]models.Address, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if prefix == "" {
		rows, err = r.db.QueryContext(ctx, `SELECT address FROM content_nodes`)
	} else {
		query := fmt.Sprintf(`
			SELECT address FROM content_nodes
			WHERE address = %s OR address LIKE %s ESCAPE '\'
		`, r.placeholders(2)...)
		rows, err = r.db.QueryContext(ctx, query, string(prefix), escapeLike(string(prefix))+"/%")
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list content under %s: %w", prefix, err)
	}
	defer rows.Close()

	addresses := make([]models.Address, 0)

	for rows.Next() {
		var addr string

		err := rows.Scan(&addr)
		if err != nil {
			return nil, fmt.Errorf("failed to scan address: %w", err)
		}

		addresses = append(addresses, models.Address(addr))
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate addresses: %w", err)
	}

	slices.Sort(addresses)

	return addresses, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

	return replacer.Replace(value)
}

func encodeAddresses(addresses []models.Address) (sql.NullString, error) {
	if len(addresses) == 0 {
		return sql.NullString{}, nil
	}

	data, err := json.Marshal(addresses)
	if err != nil {
		return sql.NullString{}, err
	}

	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeAddresses(value sql.NullString) ([]models.Address, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}

	var addresses []models.Address

	err := json.Unmarshal([]byte(value.String), &addresses)
	if err != nil {
		return nil, err
	}

	return addresses, nil
}

func addressOf(node *models.ContentNode) models.Address {
	if node == nil {
		return ""
	}

	return node.Address
}
