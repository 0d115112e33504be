// Package tree builds and caches the folder hierarchy of the gallery root.
package tree

// Node is one folder in the hierarchy. Path is slash-separated and relative
// to the gallery root.
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Children []*Node `json:"children"`
}

// CountNodes counts all folders in the forest.
func CountNodes(nodes []*Node) int {
	count := 0
	for _, n := range nodes {
		count += 1 + CountNodes(n.Children)
	}
	return count
}

// childPath constructs a child path from parent + name.
func childPath(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + "/" + name
}
