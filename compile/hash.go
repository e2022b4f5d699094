package compile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// SyntacticHash hashes the pipeline's raw source bytes.
func SyntacticHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// StructuralHash canonicalizes the graph — sorted record fields (via each
// SemType's String(), which already renders fields in declaration order
// independent of map iteration), a deterministic topological node
// numbering, and per-node (qualified_name, sorted input slots, sorted
// output slots, ordered predecessor positions) — and hashes the
// result. Two pipelines that differ only in source formatting or variable
// names but wire the same modules the same way hash identically.
func StructuralHash(g *Graph) (string, error) {
	levels, err := BuildLevels(g)
	if err != nil {
		return "", err
	}

	order := make([]string, 0, len(g.Nodes))
	for _, level := range levels {
		order = append(order, level...)
	}
	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}

	predecessors := make(map[string][]Edge, len(g.Nodes))
	for _, e := range g.Edges {
		predecessors[e.To] = append(predecessors[e.To], e)
	}

	var sb strings.Builder
	for _, id := range order {
		n := g.Nodes[id]
		fmt.Fprintf(&sb, "node#%d|%s|", position[id], n.Qualified)

		in := append([]Slot(nil), n.Inputs...)
		if n.Kind == KindData {
			// A data node's input slots are named after the variables it
			// reads; render them by producer position instead.
			for i := range in {
				if p, ok := position[in[i].Name]; ok {
					in[i].Name = fmt.Sprintf("#%d", p)
				}
			}
		}
		sort.Slice(in, func(i, j int) bool { return in[i].Name < in[j].Name })
		for _, s := range in {
			typeStr := ""
			if s.Type != nil {
				typeStr = s.Type.String()
			}
			fmt.Fprintf(&sb, "in(%s:%s)", s.Name, typeStr)
		}
		sb.WriteByte('|')

		out := append([]Slot(nil), n.Outputs...)
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		for _, s := range out {
			typeStr := ""
			if s.Type != nil {
				typeStr = s.Type.String()
			}
			fmt.Fprintf(&sb, "out(%s:%s)", s.Name, typeStr)
		}
		sb.WriteByte('|')

		preds := append([]Edge(nil), predecessors[id]...)
		sort.Slice(preds, func(i, j int) bool {
			return position[preds[i].From] < position[preds[j].From]
		})
		for _, e := range preds {
			// ToSlot is the producer's variable name, so only the position
			// is hashed.
			fmt.Fprintf(&sb, "pred(%d)", position[e.From])
		}
		sb.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:]), nil
}
