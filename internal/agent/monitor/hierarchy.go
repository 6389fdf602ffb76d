package monitor

import (
	"regexp"
	"strconv"
	"strings"
)

// uiautomator dump output is a flat-enough XML document; the watcher only
// needs per-node text, resource-id and bounds, so a tag scan is sufficient.
var (
	nodeTagRE    = regexp.MustCompile(`<node[^>]*/?>`)
	textAttrRE   = regexp.MustCompile(`\btext="([^"]*)"`)
	resourceIDRE = regexp.MustCompile(`\bresource-id="([^"]*)"`)
	boundsAttrRE = regexp.MustCompile(`\bbounds="\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]"`)
)

type uiNode struct {
	Text       string
	ResourceID string
	Bounds     [4]int // left, top, right, bottom
	HasBounds  bool
}

// center returns the midpoint of the node's bounds.
func (n uiNode) center() (int, int) {
	return (n.Bounds[0] + n.Bounds[2]) / 2, (n.Bounds[1] + n.Bounds[3]) / 2
}

func parseHierarchy(xml string) []uiNode {
	tags := nodeTagRE.FindAllString(xml, -1)
	nodes := make([]uiNode, 0, len(tags))
	for _, tag := range tags {
		node := uiNode{}
		if match := textAttrRE.FindStringSubmatch(tag); match != nil {
			node.Text = unescapeXML(match[1])
		}
		if match := resourceIDRE.FindStringSubmatch(tag); match != nil {
			node.ResourceID = match[1]
		}
		if match := boundsAttrRE.FindStringSubmatch(tag); match != nil {
			ok := true
			for i := 0; i < 4; i++ {
				v, err := strconv.Atoi(match[i+1])
				if err != nil {
					ok = false
					break
				}
				node.Bounds[i] = v
			}
			node.HasBounds = ok
		}
		nodes = append(nodes, node)
	}
	return nodes
}

var xmlUnescaper = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
)

func unescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}

// findMatch returns the first node satisfying the condition.
func findMatch(nodes []uiNode, cond Condition) (uiNode, bool) {
	for _, node := range nodes {
		switch cond.Type {
		case "text":
			if node.Text == cond.Value {
				return node, true
			}
		case "text_contains":
			if cond.Value != "" && strings.Contains(node.Text, cond.Value) {
				return node, true
			}
		case "resource_id":
			if node.ResourceID == cond.Value {
				return node, true
			}
		case "resource_id_contains":
			if cond.Value != "" && strings.Contains(node.ResourceID, cond.Value) {
				return node, true
			}
		}
	}
	return uiNode{}, false
}
