package lab

import "fmt"

// Built-in defaults for nodes that declare no ordering of their own, either
// directly or through the wildcard entry.
const (
	DefaultBootOrder = 99
	DefaultBootDelay = 0
)

// NodeAttributes is the read-only view of a node the orchestrator works with.
type NodeAttributes struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	// BootOrder: lower values start earlier and stop later.
	BootOrder int `json:"boot_order"`
	// BootDelay is in seconds.
	BootDelay int `json:"boot_delay"`
}

// ResolveNodeAttributes computes the attributes of one declared node.
// Precedence is node entry, then wildcard entry, then built-in default.
func ResolveNodeAttributes(name string, cd *ConfigurationData) (NodeAttributes, error) {
	if name == WildcardNode {
		return NodeAttributes{}, fmt.Errorf("%w: %q is not a node", ErrNodeNotFound, name)
	}
	node, ok := cd.entry(name)
	if !ok {
		return NodeAttributes{}, fmt.Errorf("%w: %s", ErrNodeNotFound, name)
	}
	wildcard, _ := cd.entry(WildcardNode)

	attrs := NodeAttributes{
		Name:        name,
		DisplayName: cd.NonNodeData.EnvironmentPrefix + name,
		BootOrder:   pick(node.BootOrder, wildcard.BootOrder, DefaultBootOrder),
		BootDelay:   pick(node.BootDelay, wildcard.BootDelay, DefaultBootDelay),
	}
	if node.DisplayName != "" {
		attrs.DisplayName = node.DisplayName
	}
	if attrs.BootDelay < 0 {
		return NodeAttributes{}, fmt.Errorf("%w: %s has %d", ErrInvalidBootDelay, name, attrs.BootDelay)
	}
	return attrs, nil
}

// ResolveAll resolves every declared node once, in document order. Each
// display name must be unique: it is the VM the backend acts on.
func ResolveAll(cd *ConfigurationData) ([]NodeAttributes, error) {
	names := cd.NodeNames()
	nodes := make([]NodeAttributes, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		attrs, err := ResolveNodeAttributes(name, cd)
		if err != nil {
			return nil, err
		}
		if other, ok := seen[attrs.DisplayName]; ok {
			return nil, fmt.Errorf("%w: %s and %s both resolve to %q", ErrDuplicateDisplayName, other, name, attrs.DisplayName)
		}
		seen[attrs.DisplayName] = name
		nodes = append(nodes, attrs)
	}
	return nodes, nil
}

func pick(own, shared *int, fallback int) int {
	if own != nil {
		return *own
	}
	if shared != nil {
		return *shared
	}
	return fallback
}
