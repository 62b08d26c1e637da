package observer

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/recplay/api/schemas"
)

// maxSegments bounds a selector to the target plus six ancestors.
const maxSegments = 7

// PathNode describes one element on the path from an event target towards the
// document root, target first.
type PathNode struct {
	Tag       string `json:"tag"`
	ID        string `json:"id"`
	ClassName string `json:"className"`
	HasParent bool   `json:"hasParent"`
	// SameTag counts the parent's children sharing this element's tag, itself included.
	SameTag int `json:"sameTag"`
	// Index is the 1-based position among all of the parent's children.
	Index int `json:"index"`
}

// Selector computes the css= locator for a described target. An empty path
// yields "".
func Selector(path []PathNode) string {
	if len(path) == 0 {
		return ""
	}
	if path[0].ID != "" {
		return schemas.SelectorPrefix + "#" + path[0].ID
	}

	segments := make([]string, 0, maxSegments)
	for _, node := range path {
		tag := strings.ToLower(node.Tag)
		if tag == "" || tag == "html" {
			break
		}
		segments = append(segments, segment(tag, node))
		if len(segments) == maxSegments || !node.HasParent {
			break
		}
	}
	if len(segments) == 0 {
		return ""
	}

	// Collected target first; selectors read root first.
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return schemas.SelectorPrefix + strings.Join(segments, " > ")
}

func segment(tag string, node PathNode) string {
	var b strings.Builder
	b.WriteString(tag)
	if classes := strings.Fields(node.ClassName); len(classes) > 0 {
		b.WriteString(".")
		b.WriteString(strings.Join(classes, "."))
	}
	if node.HasParent && node.SameTag > 1 && node.Index > 0 {
		b.WriteString(fmt.Sprintf(":nth-child(%d)", node.Index))
	}
	return b.String()
}
