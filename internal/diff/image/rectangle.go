package image

type Rectangle struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// regionMergeDistance is how close two regions may sit before they are reported as one.
const regionMergeDistance = 10

// Regions groups the 8-connected mismatched pixels of mask into bounding rectangles.
func Regions(mask *Mask) []Rectangle {
	visited := make([]bool, mask.Width*mask.Height)

	var rectangles []Rectangle
	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			if mask.At(x, y) && !visited[y*mask.Width+x] {
				rectangles = append(rectangles, findBoundingBox(mask, visited, x, y))
			}
		}
	}

	return mergeRectangles(rectangles)
}

func findBoundingBox(mask *Mask, visited []bool, startX int, startY int) Rectangle {
	minX := startX
	minY := startY
	maxX := startX
	maxY := startY

	type point struct {
		x int
		y int
	}
	queue := []point{{startX, startY}}
	visited[startY*mask.Width+startX] = true

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		minX = min(minX, p.x)
		maxX = max(maxX, p.x)
		minY = min(minY, p.y)
		maxY = max(maxY, p.y)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}

				nx := p.x + dx
				ny := p.y + dy
				if nx >= 0 && nx < mask.Width && ny >= 0 && ny < mask.Height &&
					mask.At(nx, ny) && !visited[ny*mask.Width+nx] {
					visited[ny*mask.Width+nx] = true
					queue = append(queue, point{nx, ny})
				}
			}
		}
	}

	return Rectangle{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX + 1,
		Height: maxY - minY + 1,
	}
}

func mergeRectangles(rects []Rectangle) []Rectangle {
	if len(rects) <= 1 {
		return rects
	}

	merged := make([]Rectangle, 0, len(rects))
	used := make([]bool, len(rects))

	for i := 0; i < len(rects); i++ {
		if used[i] {
			continue
		}

		current := rects[i]
		mergedAny := true

		for mergedAny {
			mergedAny = false
			for j := i + 1; j < len(rects); j++ {
				if used[j] {
					continue
				}

				if current.Overlaps(rects[j].Expand(regionMergeDistance)) {
					current = current.Union(rects[j])
					used[j] = true
					mergedAny = true
				}
			}
		}

		merged = append(merged, current)
	}

	return merged
}

func (r Rectangle) Overlaps(other Rectangle) bool {
	return !(r.X+r.Width <= other.X || other.X+other.Width <= r.X ||
		r.Y+r.Height <= other.Y || other.Y+other.Height <= r.Y)
}

func (r Rectangle) Expand(margin int) Rectangle {
	return Rectangle{
		X:      r.X - margin,
		Y:      r.Y - margin,
		Width:  r.Width + 2*margin,
		Height: r.Height + 2*margin,
	}
}

func (r Rectangle) Union(other Rectangle) Rectangle {
	minX := min(r.X, other.X)
	minY := min(r.Y, other.Y)
	maxX := max(r.X+r.Width, other.X+other.Width)
	maxY := max(r.Y+r.Height, other.Y+other.Height)

	return Rectangle{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX,
		Height: maxY - minY,
	}
}
