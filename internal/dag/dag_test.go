package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids[T any](nodes []*Node[T]) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestGraph_AddEdge_Errors(t *testing.T) {
	g := NewGraph[int]()
	g.AddNode("a", 1)

	assert.Error(t, g.AddEdge("a", "missing"))
	assert.Error(t, g.AddEdge("missing", "a"))
	assert.Error(t, g.AddEdge("a", "a"))
}

func TestGraph_AddNode_ReplacesData(t *testing.T) {
	g := NewGraph[string]()
	g.AddNode("a", "first")
	g.AddNode("a", "second")

	n, ok := g.nodes["a"]
	require.True(t, ok)
	assert.Equal(t, "second", n.Data)
	assert.Len(t, g.order, 1)
}

func TestGraph_TopologicalSort(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		edges [][2]string
		want  []string
	}{
		{
			name:  "no edges keeps insertion order",
			nodes: []string{"c", "a", "b"},
			want:  []string{"c", "a", "b"},
		},
		{
			name:  "dependency moves ahead",
			nodes: []string{"category", "bmi", "calendar"},
			edges: [][2]string{{"bmi", "category"}},
			want:  []string{"bmi", "category", "calendar"},
		},
		{
			name:  "chain",
			nodes: []string{"weekly", "fitness", "calendar"},
			edges: [][2]string{{"calendar", "weekly"}, {"fitness", "weekly"}},
			want:  []string{"fitness", "calendar", "weekly"},
		},
		{
			name:  "diamond",
			nodes: []string{"d", "b", "c", "a"},
			edges: [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}},
			want:  []string{"a", "b", "c", "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGraph[struct{}]()
			for _, n := range tt.nodes {
				g.AddNode(n, struct{}{})
			}
			for _, e := range tt.edges {
				require.NoError(t, g.AddEdge(e[0], e[1]))
			}

			sorted, err := g.TopologicalSort()
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(sorted))
		})
	}
}

func TestGraph_Cycle(t *testing.T) {
	g := NewGraph[int]()
	g.AddNode("a", 0)
	g.AddNode("b", 0)
	g.AddNode("c", 0)
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("c", "a"))

	has, path := g.HasCycle()
	assert.True(t, has)
	assert.Equal(t, []string{"a", "b", "c", "a"}, path)

	_, err := g.TopologicalSort()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle detected")
}

func TestGraph_AddEdge_Duplicate(t *testing.T) {
	g := NewGraph[int]()
	g.AddNode("a", 0)
	g.AddNode("b", 0)
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "b"))

	assert.Equal(t, []string{"a"}, g.parents["b"])
	assert.Equal(t, []string{"b"}, g.edges["a"])
	assert.Empty(t, g.parents["a"])
}
