package tree

import "strings"

// Filter returns the nodes whose name contains query (case-insensitive),
// together with every ancestor needed to reach them. Kept folders are forced
// open so matches are visible. A blank query returns f unchanged.
func Filter(f Forest, query string) Forest {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return f
	}
	return filterNodes(f, query)
}

func filterNodes(nodes []Node, query string) Forest {
	out := Forest{}
	for _, n := range nodes {
		nameMatch := strings.Contains(strings.ToLower(n.Name), query)
		if !n.IsFolder() {
			if nameMatch {
				out = append(out, n)
			}
			continue
		}
		children := filterNodes(n.Children, query)
		if nameMatch || len(children) > 0 {
			n.Children = children
			n.IsOpen = true
			out = append(out, n)
		}
	}
	return out
}
