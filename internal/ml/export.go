package ml

import (
	"fmt"
	"strings"
)

// DefaultExportDepth is the depth below which ExportText truncates branches.
const DefaultExportDepth = 10

// ExportText renders the decision rules of a tree as indented text:
//
//	|--- bytes <= 120.50
//	|   |--- class: BENIGN
//	|--- bytes >  120.50
//	|   |--- class: DDoS
func ExportText(t *DecisionTree, featureNames []string, maxDepth int) string {
	if t == nil || t.Root == nil {
		return ""
	}
	if maxDepth <= 0 {
		maxDepth = DefaultExportDepth
	}
	var b strings.Builder
	e := exporter{b: &b, names: featureNames, classes: t.classes, maxDepth: maxDepth}
	e.node(t.Root, 1)
	return b.String()
}

type exporter struct {
	b        *strings.Builder
	names    []string
	classes  []string
	maxDepth int
}

func (e *exporter) name(feature int) string {
	if feature < len(e.names) {
		return e.names[feature]
	}
	return fmt.Sprintf("feature_%d", feature)
}

func (e *exporter) class(n *Node) string {
	best := 0
	for i, v := range n.Value {
		if v > n.Value[best] {
			best = i
		}
	}
	if best < len(e.classes) {
		return e.classes[best]
	}
	return fmt.Sprint(best)
}

func (e *exporter) node(n *Node, depth int) {
	indent := strings.Repeat("|   ", depth-1) + "|---"

	if depth > e.maxDepth+1 {
		if d := n.Depth(); d > 1 {
			fmt.Fprintf(e.b, "%s truncated branch of depth %d\n", indent, d)
			return
		}
		fmt.Fprintf(e.b, "%s class: %s\n", indent, e.class(n))
		return
	}
	if n.IsLeaf() {
		fmt.Fprintf(e.b, "%s class: %s\n", indent, e.class(n))
		return
	}
	name := e.name(n.Feature)
	fmt.Fprintf(e.b, "%s %s <= %.2f\n", indent, name, n.Threshold)
	e.node(n.Left, depth+1)
	fmt.Fprintf(e.b, "%s %s >  %.2f\n", indent, name, n.Threshold)
	e.node(n.Right, depth+1)
}
