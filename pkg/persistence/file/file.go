// Package file provides file-based persistence for the content tree.
//
// Every address maps to a directory below <root>/content holding a single
// node document, so list children nest naturally below their container.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
)

const (
	contentDir   = "content"
	nodeFileName = "_node.json"
)

// Persistence implements persistence.Persistence using the file system.
type Persistence struct {
	root string
	mu   sync.Mutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

// Root returns the directory the content tree lives in.
func (fp *Persistence) Root() string {
	return fp.root
}

func (fp *Persistence) nodePath(addr models.Address) string {
	parts := append([]string{fp.root, contentDir}, strings.Split(string(addr), "/")...)

	return filepath.Join(append(parts, nodeFileName)...)
}

func (fp *Persistence) Node(_ context.Context, addr models.Address) (*models.ContentNode, error) {
	err := persistence.ValidateAddress(addr)
	if err != nil {
		return nil, persistence.NewNodeError("Node", addr, err)
	}

	data, err := os.ReadFile(fp.nodePath(addr)) // #nosec G304 -- address segments are validated
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.Missing(addr), nil
		}

		return nil, fmt.Errorf("failed to read node %s: %w", addr, err)
	}

	var node models.ContentNode

	err = json.Unmarshal(data, &node)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal node %s: %w", addr, err)
	}

	return &node, nil
}

// Insert writes the node document to a temporary file and hard-links it into
// place, so readers never observe a partially written node and a second
// writer fails on the existing link.
func (fp *Persistence) Insert(_ context.Context, node *models.ContentNode) error {
	err := persistence.ValidateNode(node)
	if err != nil {
		return persistence.NewNodeError("Insert", addressOf(node), err)
	}

	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node %s: %w", node.Address, err)
	}

	target := fp.nodePath(node.Address)
	dir := filepath.Dir(target)

	fp.mu.Lock()
	defer fp.mu.Unlock()

	err = os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create node directory %s: %w", node.Address, err)
	}

	tmp, err := os.CreateTemp(dir, ".node-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary node file %s: %w", node.Address, err)
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	_, err = tmp.Write(data)
	closeErr := tmp.Close()

	if err = errors.Join(err, closeErr); err != nil {
		return fmt.Errorf("failed to write node %s: %w", node.Address, err)
	}

	err = os.Link(tmp.Name(), target)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return persistence.NewNodeError("Insert", node.Address, persistence.ErrAddressPopulated)
		}

		return fmt.Errorf("failed to publish node %s: %w", node.Address, err)
	}

	return nil
}

func (fp *Persistence) Addresses(_ context.Context, prefix models.Address) ([]models.Address, error) {
	base := filepath.Join(fp.root, contentDir)

	start := base
	if prefix != "" {
		err := persistence.ValidateAddress(prefix)
		if err != nil {
			return nil, persistence.NewNodeError("Addresses", prefix, err)
		}

		start = filepath.Join(append([]string{base}, strings.Split(string(prefix), "/")...)...)
	}

	addresses := make([]models.Address, 0)

	err := filepath.WalkDir(start, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}

			return err
		}

		if entry.IsDir() || entry.Name() != nodeFileName {
			return nil
		}

		rel, err := filepath.Rel(base, filepath.Dir(path))
		if err != nil {
			return err
		}

		addresses = append(addresses, models.Address(filepath.ToSlash(rel)))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list content under %s: %w", prefix, err)
	}

	slices.Sort(addresses)

	return addresses, nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

func addressOf(node *models.ContentNode) models.Address {
	if node == nil {
		return ""
	}

	return node.Address
}
