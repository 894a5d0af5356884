// Package viz draws the page hierarchy with graphviz.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/quillqay/pkg/model"
)

const titleLimit = 40

// RenderPageTree writes the parent/child graph of pages in the given format, one node per page and one edge from
// each parent to its children. Parents missing from pages are drawn as dashed placeholders. Cycles in the parent
// chain are drawn as they are.
func RenderPageTree(pages []model.Page, format graphviz.Format, w io.Writer) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph(graphviz.Name("pages"))
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()
	graph.SetRankDir(cgraph.LRRank)

	sorted := make([]model.Page, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID.String() < sorted[j].ID.String() })

	nodeMap := make(map[string]*cgraph.Node, len(sorted))
	for _, p := range sorted {
		n, err := graph.CreateNode(p.ID.String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetShape(cgraph.BoxShape)
		n.SetLabel(fmt.Sprintf("%s\\n%s", shorten(p.Title), p.ID.String()[:8]))
		nodeMap[n.Name()] = n
	}

	var edgeCounter int
	for _, p := range sorted {
		if p.ParentID == nil {
			continue
		}
		parent, ok := nodeMap[p.ParentID.String()]
		if !ok {
			if parent, err = graph.CreateNode(p.ParentID.String()); err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}
			parent.SetStyle(cgraph.DashedNodeStyle)
			parent.SetLabel("missing\\n" + p.ParentID.String()[:8])
			nodeMap[parent.Name()] = parent
		}
		edgeCounter++
		if _, err := graph.CreateEdge(strconv.Itoa(edgeCounter), parent, nodeMap[p.ID.String()]); err != nil {
			return fmt.Errorf("failed to create edge: %w", err)
		}
	}

	if err := g.Render(graph, format, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}

// RenderPageTreeToSvg renders the page hierarchy into an svg file.
func RenderPageTreeToSvg(pages []model.Page, outputPath string) error {
	var buff bytes.Buffer
	if err := RenderPageTree(pages, graphviz.SVG, &buff); err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

func shorten(title string) string {
	r := []rune(title)
	if len(r) <= titleLimit {
		return title
	}
	return string(r[:titleLimit-1]) + "…"
}
