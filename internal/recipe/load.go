package recipe

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and strictly parses a recipe YAML document from path, returning
// a fully validated Recipe. Unknown top-level or nested keys are rejected
// (spec.md §6: "Strict parsing: unknown fields are rejected").
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe %s: %w", path, err)
	}
	return Parse(data)
}

// Parse strictly parses recipe YAML already held in memory. Exposed
// separately from Load so tests and the IPC `get_snapshot`-adjacent tooling
// can exercise parsing without touching the filesystem.
func Parse(data []byte) (*Recipe, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse recipe yaml: %w", err)
	}

	// Duplicate service keys are checked on the raw tree first: the strict
	// decode below would otherwise fail on them with a generic yaml error.
	order, err := serviceOrder(&root)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if seen[name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateService, name)
		}
		seen[name] = true
	}

	var doc yamlDoc
	if err := decodeStrict(data, &doc); err != nil {
		return nil, err
	}

	return buildRecipe(&doc, order)
}

// serviceOrder walks the raw document tree to recover the declaration order
// of the `services` mapping; Go maps have no iteration order and spec.md's
// round-trip property (§8) plus deterministic `ps` output both want one.
func serviceOrder(root *yaml.Node) ([]string, error) {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("empty recipe document")
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("recipe document must be a mapping")
	}

	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value != "services" {
			continue
		}
		servicesNode := top.Content[i+1]
		if servicesNode.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("services must be a mapping")
		}
		order := make([]string, 0, len(servicesNode.Content)/2)
		for j := 0; j+1 < len(servicesNode.Content); j += 2 {
			order = append(order, servicesNode.Content[j].Value)
		}
		return order, nil
	}

	return nil, nil
}
