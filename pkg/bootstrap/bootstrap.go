package bootstrap

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lanternhq/lantern/pkg/hierarchy"
	"github.com/lanternhq/lantern/pkg/observability"
)

//go:embed seed.yaml
var seedYAML []byte

// Catalog is the versioned seed document.
type Catalog struct {
	Version     int        `yaml:"version"`
	Description string     `yaml:"description"`
	Nodes       []SeedNode `yaml:"nodes"`
}

// SeedNode is one node of the seed forest. Children are nested so the
// document reads as the tree it describes.
type SeedNode struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Type        string     `yaml:"type"`
	Description string     `yaml:"description"`
	Roles       []string   `yaml:"roles"`
	Tenants     []string   `yaml:"tenants"`
	Inactive    bool       `yaml:"inactive"`
	Children    []SeedNode `yaml:"children"`
}

// ParseCatalog decodes and validates a seed document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse seed catalog: %w", err)
	}
	if catalog.Version <= 0 {
		return nil, fmt.Errorf("seed catalog missing version")
	}
	if len(catalog.Nodes) == 0 {
		return nil, fmt.Errorf("seed catalog has no nodes")
	}

	seen := make(map[string]bool)
	var validate func(nodes []SeedNode) error
	validate = func(nodes []SeedNode) error {
		for _, n := range nodes {
			if err := hierarchy.ValidateID(n.ID); err != nil {
				return fmt.Errorf("seed node %q: %w", n.ID, err)
			}
			if seen[n.ID] {
				return fmt.Errorf("seed node id %q appears twice", n.ID)
			}
			seen[n.ID] = true
			if n.Name == "" {
				return fmt.Errorf("seed node %q has no name", n.ID)
			}
			if _, err := hierarchy.ParseNodeType(n.Type); err != nil {
				return fmt.Errorf("seed node %q: %w", n.ID, err)
			}
			if err := validate(n.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := validate(catalog.Nodes); err != nil {
		return nil, err
	}

	return &catalog, nil
}

// EmbeddedCatalog returns the catalog compiled into the binary.
func EmbeddedCatalog() (*Catalog, error) {
	return ParseCatalog(seedYAML)
}

// Load seeds the store with the embedded catalog iff the store is
// empty. A non-empty store is left untouched. Any error here should be
// treated as fatal by the caller; a partially seeded catalog is not a
// valid registry.
func Load(ctx context.Context, store hierarchy.Store, logger *observability.Logger) error {
	catalog, err := EmbeddedCatalog()
	if err != nil {
		return err
	}
	return LoadCatalog(ctx, store, catalog, logger)
}

// LoadCatalog seeds the store with the given catalog iff the store is
// empty.
func LoadCatalog(ctx context.Context, store hierarchy.Store, catalog *Catalog, logger *observability.Logger) error {
	count, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to check hierarchy store: %w", err)
	}
	if count > 0 {
		logger.WithField("node_count", count).
			Info("hierarchy store already populated, skipping seed")
		return nil
	}

	created := 0
	var insert func(nodes []SeedNode, parentID string) error
	insert = func(nodes []SeedNode, parentID string) error {
		for _, sn := range nodes {
			nodeType, err := hierarchy.ParseNodeType(sn.Type)
			if err != nil {
				return err
			}
			node := &hierarchy.Node{
				ID:             sn.ID,
				Name:           sn.Name,
				Type:           nodeType,
				ParentID:       parentID,
				Description:    sn.Description,
				IsActive:       !sn.Inactive,
				AllowedRoles:   sn.Roles,
				AllowedTenants: sn.Tenants,
			}
			if _, err := store.CreateNode(ctx, node); err != nil {
				return fmt.Errorf("failed to seed node %q: %w", sn.ID, err)
			}
			created++
			if err := insert(sn.Children, sn.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := insert(catalog.Nodes, ""); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"catalog_version": catalog.Version,
		"nodes_created":   created,
	}).Info("seed catalog loaded")

	return nil
}
