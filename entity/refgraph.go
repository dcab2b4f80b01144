package entity

import "sort"

// Graph tracks directed objectId→objectId references as symmetric
// forward/reverse adjacency. Reference cycles are expected (hence mark-sweep
// rather than reference counting); StronglyConnected surfaces them.
type Graph struct {
	outgoing map[int64]map[int64]struct{}
	incoming map[int64]map[int64]struct{}
}

// NewGraph creates an empty reference graph.
func NewGraph() *Graph {
	return &Graph{
		outgoing: map[int64]map[int64]struct{}{},
		incoming: map[int64]map[int64]struct{}{},
	}
}

// AddReference records the edge from→to in both adjacency directions.
func (g *Graph) AddReference(from, to int64) {
	addEdge(g.outgoing, from, to)
	addEdge(g.incoming, to, from)
}

// RemoveReference removes the edge from→to from both directions.
func (g *Graph) RemoveReference(from, to int64) {
	removeEdge(g.outgoing, from, to)
	removeEdge(g.incoming, to, from)
}

// RemoveObject drops every edge touching objectID.
func (g *Graph) RemoveObject(objectID int64) {
	for to := range g.outgoing[objectID] {
		removeEdge(g.incoming, to, objectID)
	}
	delete(g.outgoing, objectID)
	for from := range g.incoming[objectID] {
		removeEdge(g.outgoing, from, objectID)
	}
	delete(g.incoming, objectID)
}

// Outgoing returns the sorted outgoing reference ids of objectID.
func (g *Graph) Outgoing(objectID int64) []int64 { return sortedKeys(g.outgoing[objectID]) }

// Incoming returns the sorted incoming reference ids of objectID.
func (g *Graph) Incoming(objectID int64) []int64 { return sortedKeys(g.incoming[objectID]) }

// HasReference reports whether the edge from→to exists.
func (g *Graph) HasReference(from, to int64) bool {
	_, ok := g.outgoing[from][to]
	return ok
}

// Reachable runs a breadth-first walk from roots and returns the visited
// set. limit > 0 bounds the number of visited objects; limit <= 0 walks the
// whole component.
func (g *Graph) Reachable(roots []int64, limit int) map[int64]struct{} {
	visited := map[int64]struct{}{}
	queue := make([]int64, 0, len(roots))
	for _, root := range roots {
		if _, ok := visited[root]; ok {
			continue
		}
		visited[root] = struct{}{}
		queue = append(queue, root)
		if limit > 0 && len(visited) >= limit {
			return visited
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for to := range g.outgoing[id] {
			if _, ok := visited[to]; ok {
				continue
			}
			visited[to] = struct{}{}
			queue = append(queue, to)
			if limit > 0 && len(visited) >= limit {
				return visited
			}
		}
	}
	return visited
}

// StronglyConnected computes the strongly connected components of the graph
// with the two-pass Kosaraju walk: a finish-ordered DFS over the forward
// edges, then a DFS over the transpose in reverse finish order.
func (g *Graph) StronglyConnected() [][]int64 {
	nodes := map[int64]struct{}{}
	for id := range g.outgoing {
		nodes[id] = struct{}{}
	}
	for id := range g.incoming {
		nodes[id] = struct{}{}
	}

	order := make([]int64, 0, len(nodes))
	seen := map[int64]struct{}{}
	for id := range nodes {
		if _, ok := seen[id]; ok {
			continue
		}
		g.finishOrder(id, seen, &order)
	}

	components := [][]int64{}
	assigned := map[int64]struct{}{}
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if _, ok := assigned[id]; ok {
			continue
		}
		component := g.collectTransposed(id, assigned)
		sort.Slice(component, func(a, b int) bool { return component[a] < component[b] })
		components = append(components, component)
	}
	return components
}

// Cycles returns the reference cycles: components of size > 1 plus
// self-referencing objects.
func (g *Graph) Cycles() [][]int64 {
	var cycles [][]int64
	for _, component := range g.StronglyConnected() {
		if len(component) > 1 || g.HasReference(component[0], component[0]) {
			cycles = append(cycles, component)
		}
	}
	return cycles
}

// finishOrder is an iterative post-order DFS over the forward edges.
func (g *Graph) finishOrder(start int64, seen map[int64]struct{}, order *[]int64) {
	type frame struct {
		id   int64
		next []int64
	}
	seen[start] = struct{}{}
	stack := []frame{{id: start, next: sortedKeys(g.outgoing[start])}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		advanced := false
		for len(top.next) > 0 {
			to := top.next[0]
			top.next = top.next[1:]
			if _, ok := seen[to]; ok {
				continue
			}
			seen[to] = struct{}{}
			stack = append(stack, frame{id: to, next: sortedKeys(g.outgoing[to])})
			advanced = true
			break
		}
		if !advanced {
			*order = append(*order, top.id)
			stack = stack[:len(stack)-1]
		}
	}
}

// collectTransposed gathers one component by walking the reverse edges.
func (g *Graph) collectTransposed(start int64, assigned map[int64]struct{}) []int64 {
	assigned[start] = struct{}{}
	component := []int64{start}
	stack := []int64{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for from := range g.incoming[id] {
			if _, ok := assigned[from]; ok {
				continue
			}
			assigned[from] = struct{}{}
			component = append(component, from)
			stack = append(stack, from)
		}
	}
	return component
}

func addEdge(adj map[int64]map[int64]struct{}, a, b int64) {
	set, ok := adj[a]
	if !ok {
		set = map[int64]struct{}{}
		adj[a] = set
	}
	set[b] = struct{}{}
}

func removeEdge(adj map[int64]map[int64]struct{}, a, b int64) {
	if set, ok := adj[a]; ok {
		delete(set, b)
		if len(set) == 0 {
			delete(adj, a)
		}
	}
}

func sortedKeys(set map[int64]struct{}) []int64 {
	if len(set) == 0 {
		return nil
	}
	keys := make([]int64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
	return keys
}
