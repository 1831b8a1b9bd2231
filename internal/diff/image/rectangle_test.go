package image

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func maskWith(width int, height int, points ...[2]int) *Mask {
	m := NewMask(width, height)
	for _, p := range points {
		m.Set(p[0], p[1])
	}
	return m
}

func TestRegions(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		if got := Regions(NewMask(10, 10)); len(got) != 0 {
			t.Errorf("Expected no regions, got %v", got)
		}
	})

	t.Run("GroupsAdjacent", func(t *testing.T) {
		got := Regions(maskWith(5, 5, [2]int{1, 1}, [2]int{2, 1}, [2]int{1, 2}, [2]int{2, 2}))

		if diff := cmp.Diff([]Rectangle{{X: 1, Y: 1, Width: 2, Height: 2}}, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("DiagonalIsConnected", func(t *testing.T) {
		got := Regions(maskWith(5, 5, [2]int{0, 0}, [2]int{1, 1}, [2]int{2, 2}))

		if diff := cmp.Diff([]Rectangle{{X: 0, Y: 0, Width: 3, Height: 3}}, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("MergesNearby", func(t *testing.T) {
		got := Regions(maskWith(40, 40, [2]int{0, 0}, [2]int{5, 0}))

		if diff := cmp.Diff([]Rectangle{{X: 0, Y: 0, Width: 6, Height: 1}}, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("KeepsDistantApart", func(t *testing.T) {
		got := Regions(maskWith(40, 40, [2]int{0, 0}, [2]int{39, 39}))

		want := []Rectangle{
			{X: 0, Y: 0, Width: 1, Height: 1},
			{X: 39, Y: 39, Width: 1, Height: 1},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})
}

func TestRectangle_Union(t *testing.T) {
	got := Rectangle{X: 0, Y: 0, Width: 2, Height: 2}.Union(Rectangle{X: 5, Y: 1, Width: 1, Height: 4})

	if diff := cmp.Diff(Rectangle{X: 0, Y: 0, Width: 6, Height: 5}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
