package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	NodesChanged bool
	NodeChanges  []NodeDiff
}

// NodeDiff describes what changed for a single node between two configs.
type NodeDiff struct {
	Name    string
	Node    NodeConfig
	Added   bool
	Removed bool
	// Changed is set when host, port or password differ; the node must be
	// re-registered to pick that up.
	Changed bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(oldCfg, newCfg *Config) ConfigDiff {
	d := ConfigDiff{}

	if oldCfg.Server.LogLevel != newCfg.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = newCfg.Server.LogLevel
	}

	oldNodes := make(map[string]NodeConfig, len(oldCfg.Nodes))
	for _, n := range oldCfg.Nodes {
		oldNodes[n.Name] = n
	}
	newNodes := make(map[string]NodeConfig, len(newCfg.Nodes))
	for _, n := range newCfg.Nodes {
		newNodes[n.Name] = n
	}

	for name, oldNode := range oldNodes {
		newNode, exists := newNodes[name]
		if !exists {
			d.NodeChanges = append(d.NodeChanges, NodeDiff{Name: name, Node: oldNode, Removed: true})
			d.NodesChanged = true
			continue
		}
		if oldNode != newNode {
			d.NodeChanges = append(d.NodeChanges, NodeDiff{Name: name, Node: newNode, Changed: true})
			d.NodesChanged = true
		}
	}
	for name, newNode := range newNodes {
		if _, exists := oldNodes[name]; !exists {
			d.NodeChanges = append(d.NodeChanges, NodeDiff{Name: name, Node: newNode, Added: true})
			d.NodesChanged = true
		}
	}

	return d
}
