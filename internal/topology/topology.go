// Package topology computes per-node neighbor lists for the fixed
// topologies the coordinator can impose on a discovered fleet (spec 4.3).
// General topology is handled separately (topology.go only covers the
// topologies the coordinator dictates outright).
package topology

import (
	"fmt"
	"math"
)

// Kind selects a topology shape.
type Kind string

const (
	Ring    Kind = "ring"
	Line    Kind = "line"
	Tree    Kind = "tree"
	Mesh    Kind = "mesh"
	General Kind = "gen"
)

// ParseKind validates a config/CLI string against the known topology
// kinds.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Ring, Line, Tree, Mesh, General:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("topology: unknown kind %q", s)
	}
}

// Neighbors returns, for each of the n nodes (0-indexed), the indices of
// its neighbors under kind. General topology returns nil slices for every
// node: the coordinator does not compute it, workers discover it
// themselves (spec 4.3, general).
func Neighbors(kind Kind, n int) ([][]int, error) {
	switch kind {
	case Ring:
		return ring(n), nil
	case Line:
		return line(n), nil
	case Tree:
		return tree(n), nil
	case Mesh:
		return mesh(n), nil
	case General:
		return make([][]int, n), nil
	default:
		return nil, fmt.Errorf("topology: unknown kind %q", kind)
	}
}

func ring(n int) [][]int {
	out := make([][]int, n)
	for i := 0; i < n; i++ {
		if n == 1 {
			out[i] = nil
			continue
		}
		prev := (i - 1 + n) % n
		next := (i + 1) % n
		if n == 2 {
			out[i] = []int{prev}
			continue
		}
		out[i] = []int{prev, next}
	}
	return out
}

func line(n int) [][]int {
	out := make([][]int, n)
	for i := 0; i < n; i++ {
		var nbrs []int
		if i > 0 {
			nbrs = append(nbrs, i-1)
		}
		if i < n-1 {
			nbrs = append(nbrs, i+1)
		}
		out[i] = nbrs
	}
	return out
}

func tree(n int) [][]int {
	out := make([][]int, n)
	for i := 0; i < n; i++ {
		var nbrs []int
		if i > 0 {
			nbrs = append(nbrs, (i-1)/2)
		}
		if left := 2*i + 1; left < n {
			nbrs = append(nbrs, left)
		}
		if right := 2*i + 2; right < n {
			nbrs = append(nbrs, right)
		}
		out[i] = nbrs
	}
	return out
}

func mesh(n int) [][]int {
	width := int(math.Round(math.Sqrt(float64(n))))
	if width < 1 {
		width = 1
	}
	out := make([][]int, n)
	for i := 0; i < n; i++ {
		var nbrs []int
		if up := i - width; up >= 0 {
			nbrs = append(nbrs, up)
		}
		if i%width != 0 {
			nbrs = append(nbrs, i-1)
		}
		if i%width != width-1 && i+1 < n {
			nbrs = append(nbrs, i+1)
		}
		if down := i + width; down < n {
			nbrs = append(nbrs, down)
		}
		out[i] = nbrs
	}
	return out
}
