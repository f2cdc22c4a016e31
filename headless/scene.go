package headless

import (
	"fmt"
	"os"
	"strings"
)

// Node is an element of the scene tree. Positions are absolute design
// coordinates of the node's bottom-left corner.
type Node struct {
	Name          string
	X, Y          float64
	Width, Height float64
	Children      []*Node

	updates uint64
}

// NewNode creates a node.
func NewNode(name string, x, y, width, height float64, children ...*Node) *Node {
	return &Node{Name: name, X: x, Y: y, Width: width, Height: height, Children: children}
}

// Updates returns how many frames updated the node.
func (n *Node) Updates() uint64 {
	return n.updates
}

func (n *Node) update() {
	n.updates++
	for _, child := range n.Children {
		child.update()
	}
}

func (n *Node) dump(b *strings.Builder, depth int) {
	fmt.Fprintf(b, "%s<%s | pos=(%g, %g) size=(%g x %g)>\n",
		strings.Repeat("  ", depth), n.Name, n.X, n.Y, n.Width, n.Height)
	for _, child := range n.Children {
		child.dump(b, depth+1)
	}
}

func (n *Node) count() int {
	total := 1
	for _, child := range n.Children {
		total += child.count()
	}
	return total
}

func (n *Node) contains(x, y float64) bool {
	return x >= n.X && x < n.X+n.Width && y >= n.Y && y < n.Y+n.Height
}

// hit returns the deepest node containing (x, y). Later children are drawn
// on top and win.
func (n *Node) hit(x, y float64) *Node {
	if !n.contains(x, y) {
		return nil
	}
	for i := len(n.Children) - 1; i >= 0; i-- {
		if found := n.Children[i].hit(x, y); found != nil {
			return found
		}
	}
	return n
}

func defaultScene() *Node {
	return NewNode("Scene", 0, 0, 960, 640,
		NewNode("Background", 0, 0, 960, 640),
		NewNode("MenuLayer", 0, 0, 960, 640,
			NewNode("Logo", 380, 400, 200, 200),
			NewNode("PlayButton", 405, 200, 150, 60),
		),
	)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
