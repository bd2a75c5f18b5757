package spatial

import "testing"

// Scratch diagnosis test, not part of the suite. Verifies that a LayerNone
// entity is invisible to a LayerAll query while a layered one is visible.
func TestScratchLayerNoneInvisible(t *testing.T) {
	octree := NewOctree(TestWorld())
	positions := make(posMap)
	octree.Connect(positions.resolve)

	positions[1] = Vector3f{X: -12}
	if err := octree.Insert(1, Vector3f{X: -12}, 0.5, LayerNone); err != nil {
		t.Fatal(err)
	}
	if hits := octree.SearchSphere(Vector3f{X: -12}, 1, LayerAll); len(hits) != 0 {
		t.Fatalf("expected LayerNone entity to be invisible, got %d hits", len(hits))
	}

	positions[2] = Vector3f{X: 12}
	if err := octree.Insert(2, Vector3f{X: 12}, 0.5, LayerItems); err != nil {
		t.Fatal(err)
	}
	if hits := octree.SearchSphere(Vector3f{X: 12}, 1, LayerAll); len(hits) != 1 {
		t.Fatalf("expected layered entity to be visible, got %d hits", len(hits))
	}
}
