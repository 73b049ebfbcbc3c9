package lab

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WildcardNode is the node name whose entry carries defaults for every node.
const WildcardNode = "*"

var (
	// ErrNodeNotFound is returned when a node is not declared in the lab document.
	ErrNodeNotFound = errors.New("node not declared in configuration data")
	// ErrInvalidBootDelay is returned for a negative boot delay.
	ErrInvalidBootDelay = errors.New("boot delay must not be negative")
	// ErrDuplicateNode is returned when two entries share a node name.
	ErrDuplicateNode = errors.New("duplicate node declaration")
	// ErrDuplicateDisplayName is returned when two nodes resolve to the same
	// backend name.
	ErrDuplicateDisplayName = errors.New("duplicate display name")
)

// ConfigurationData is the lab document: the declared nodes plus lab-wide data.
type ConfigurationData struct {
	NonNodeData NonNodeData `yaml:"nonNodeData"`
	AllNodes    []NodeData  `yaml:"allNodes"`
}

// NonNodeData holds settings that apply to the lab as a whole.
type NonNodeData struct {
	// EnvironmentPrefix is prepended to a node name to build its backend name.
	EnvironmentPrefix string `yaml:"environmentPrefix,omitempty"`
}

// NodeData is a single entry of the allNodes list. Pointer fields distinguish
// "unset" from an explicit zero so the wildcard entry can fill the gaps.
type NodeData struct {
	NodeName    string `yaml:"nodeName"`
	DisplayName string `yaml:"displayName,omitempty"`
	BootOrder   *int   `yaml:"bootOrder,omitempty"`
	BootDelay   *int   `yaml:"bootDelay,omitempty"`
}

// LoadConfigurationData reads a lab document from disk.
func LoadConfigurationData(path string) (*ConfigurationData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cd, err := ParseConfigurationData(data)
	if err != nil {
		return nil, fmt.Errorf("lab document %s: %w", path, err)
	}
	return cd, nil
}

// ParseConfigurationData decodes a lab document held in memory.
func ParseConfigurationData(data []byte) (*ConfigurationData, error) {
	var cd ConfigurationData
	if err := yaml.Unmarshal(data, &cd); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(cd.AllNodes))
	for _, n := range cd.AllNodes {
		if n.NodeName == "" {
			return nil, errors.New("node entry without nodeName")
		}
		if seen[n.NodeName] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n.NodeName)
		}
		seen[n.NodeName] = true
	}
	return &cd, nil
}

// NodeNames lists declared nodes in document order, skipping the wildcard entry.
func (cd *ConfigurationData) NodeNames() []string {
	names := make([]string, 0, len(cd.AllNodes))
	for _, n := range cd.AllNodes {
		if n.NodeName == WildcardNode {
			continue
		}
		names = append(names, n.NodeName)
	}
	return names
}

func (cd *ConfigurationData) entry(name string) (NodeData, bool) {
	for _, n := range cd.AllNodes {
		if n.NodeName == name {
			return n, true
		}
	}
	return NodeData{}, false
}
