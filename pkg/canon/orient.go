package canon

// edgeKey is an undirected edge, lower index first.
type edgeKey [2]uint32

func undirected(a, b uint32) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// edgesOf returns the undirected edges of t in ascending order, so the
// traversal does not depend on the current winding.
func edgesOf(t [3]uint32) [3]edgeKey {
	e := [3]edgeKey{undirected(t[0], t[1]), undirected(t[1], t[2]), undirected(t[2], t[0])}
	less := func(x, y edgeKey) bool { return x[0] < y[0] || (x[0] == y[0] && x[1] < y[1]) }
	if less(e[1], e[0]) {
		e[0], e[1] = e[1], e[0]
	}
	if less(e[2], e[1]) {
		e[1], e[2] = e[2], e[1]
	}
	if less(e[1], e[0]) {
		e[0], e[1] = e[1], e[0]
	}
	return e
}

// hasDirected reports whether t walks from a to b.
func hasDirected(t [3]uint32, a, b uint32) bool {
	for i := 0; i < 3; i++ {
		if t[i] == a && t[(i+1)%3] == b {
			return true
		}
	}
	return false
}

// orient makes winding consistent across shared edges: two neighbors must
// walk their common edge in opposite directions. Each connected component
// is flooded breadth-first from its lowest-numbered triangle, which keeps
// its winding. On a non-manifold edge the first neighbor to reach a
// triangle decides it. Returns the number of flipped triangles.
func orient(tris [][3]uint32) int {
	adj := make(map[edgeKey][]int, len(tris)*3/2)
	for i, t := range tris {
		for _, e := range edgesOf(t) {
			adj[e] = append(adj[e], i)
		}
	}

	visited := make([]bool, len(tris))
	queue := make([]int, 0, len(tris))
	flipped := 0
	for seed := range tris {
		if visited[seed] {
			continue
		}
		visited[seed] = true
		queue = append(queue[:0], seed)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			t := tris[cur]
			for _, e := range edgesOf(t) {
				// Direction of e as cur walks it.
				a, b := e[0], e[1]
				if !hasDirected(t, a, b) {
					a, b = b, a
				}
				for _, nb := range adj[e] {
					if visited[nb] {
						continue
					}
					visited[nb] = true
					if hasDirected(tris[nb], a, b) {
						tris[nb][1], tris[nb][2] = tris[nb][2], tris[nb][1]
						flipped++
					}
					queue = append(queue, nb)
				}
			}
		}
	}
	return flipped
}
