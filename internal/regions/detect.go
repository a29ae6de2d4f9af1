package regions

import (
	"image"
	"image/draw"
	"sort"
)

// DetectOptions tunes DetectComponents
type DetectOptions struct {
	// CellSize is the edge of one grid cell in pixels.
	CellSize int
	// Contrast is how far a pixel's luminance must sit from the dominant
	// background level to count as foreground.
	Contrast uint8
	// CellFill is the fraction of foreground pixels that marks a cell.
	CellFill float64
	// CloseRadius is the number of dilate/erode passes, in cells, used to
	// join neighbouring words into one block.
	CloseRadius int
	// MinArea drops components smaller than this many square pixels.
	MinArea int
}

// DefaultDetectOptions returns options suited to UI screenshots
func DefaultDetectOptions() DetectOptions {
	return DetectOptions{
		CellSize:    8,
		Contrast:    32,
		CellFill:    0.1,
		CloseRadius: 2,
		MinArea:     400,
	}
}

func (o DetectOptions) withDefaults() DetectOptions {
	d := DefaultDetectOptions()
	if o.CellSize <= 0 {
		o.CellSize = d.CellSize
	}
	if o.Contrast == 0 {
		o.Contrast = d.Contrast
	}
	if o.CellFill <= 0 {
		o.CellFill = d.CellFill
	}
	if o.CloseRadius < 0 {
		o.CloseRadius = 0
	}
	return o
}

// grid is a row-major cell occupancy map
type grid struct {
	cells      []byte
	cols, rows int
}

func (g *grid) at(x, y int) byte { return g.cells[y*g.cols+x] }

// DetectComponents finds blocks of foreground content in a screenshot and
// returns their pixel rectangles in reading order (top to bottom, then left
// to right).
func DetectComponents(src image.Image, opts DetectOptions) []ComponentRect {
	opts = opts.withDefaults()
	b := src.Bounds()
	if b.Empty() {
		return nil
	}
	img := toGray(src)

	g := occupancy(img, opts)
	for i := 0; i < opts.CloseRadius; i++ {
		g = dilate(g)
	}
	for i := 0; i < opts.CloseRadius; i++ {
		g = erode(g)
	}

	visited := make([]byte, len(g.cells))
	var comps []ComponentRect
	for cy := 0; cy < g.rows; cy++ {
		for cx := 0; cx < g.cols; cx++ {
			idx := cy*g.cols + cx
			if g.cells[idx] == 0 || visited[idx] != 0 {
				continue
			}
			cells := floodFill(g, visited, cx, cy)
			r := ComponentRect{
				MinX: b.Min.X + cells.Min.X*opts.CellSize,
				MinY: b.Min.Y + cells.Min.Y*opts.CellSize,
				MaxX: min(b.Min.X+cells.Max.X*opts.CellSize, b.Max.X),
				MaxY: min(b.Min.Y+cells.Max.Y*opts.CellSize, b.Max.Y),
			}
			if r.Width()*r.Height() < opts.MinArea {
				continue
			}
			comps = append(comps, r)
		}
	}

	sort.SliceStable(comps, func(i, j int) bool {
		if comps[i].MinY != comps[j].MinY {
			return comps[i].MinY < comps[j].MinY
		}
		return comps[i].MinX < comps[j].MinX
	})
	return comps
}

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	g := image.NewGray(src.Bounds())
	draw.Draw(g, g.Bounds(), src, src.Bounds().Min, draw.Src)
	return g
}

// backgroundLevel returns the most common luminance in the image
func backgroundLevel(img *image.Gray) uint8 {
	var hist [256]int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for _, v := range row {
			hist[v]++
		}
	}
	best := 0
	for v := 1; v < 256; v++ {
		if hist[v] > hist[best] {
			best = v
		}
	}
	return uint8(best)
}

// occupancy marks every cell whose share of foreground pixels reaches CellFill
func occupancy(img *image.Gray, opts DetectOptions) *grid {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	g := &grid{
		cols: (w + opts.CellSize - 1) / opts.CellSize,
		rows: (h + opts.CellSize - 1) / opts.CellSize,
	}
	g.cells = make([]byte, g.cols*g.rows)
	bg := int(backgroundLevel(img))
	contrast := int(opts.Contrast)

	for cy := 0; cy < g.rows; cy++ {
		for cx := 0; cx < g.cols; cx++ {
			x0 := b.Min.X + cx*opts.CellSize
			y0 := b.Min.Y + cy*opts.CellSize
			x1 := min(x0+opts.CellSize, b.Max.X)
			y1 := min(y0+opts.CellSize, b.Max.Y)

			fg, total := 0, 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					d := int(img.Pix[img.PixOffset(x, y)]) - bg
					if d < 0 {
						d = -d
					}
					if d > contrast {
						fg++
					}
					total++
				}
			}
			if total > 0 && float64(fg) >= opts.CellFill*float64(total) {
				g.cells[cy*g.cols+cx] = 1
			}
		}
	}
	return g
}

// dilate sets every cell with a set cardinal neighbour
func dilate(g *grid) *grid {
	out := &grid{cells: make([]byte, len(g.cells)), cols: g.cols, rows: g.rows}
	for y := 0; y < g.rows; y++ {
		for x := 0; x < g.cols; x++ {
			if g.at(x, y) == 1 ||
				(x > 0 && g.at(x-1, y) == 1) ||
				(x < g.cols-1 && g.at(x+1, y) == 1) ||
				(y > 0 && g.at(x, y-1) == 1) ||
				(y < g.rows-1 && g.at(x, y+1) == 1) {
				out.cells[y*g.cols+x] = 1
			}
		}
	}
	return out
}

// erode keeps a cell only if all cardinal neighbours are set. Cells beyond
// the grid count as set so blocks touching the image edge keep their size.
func erode(g *grid) *grid {
	out := &grid{cells: make([]byte, len(g.cells)), cols: g.cols, rows: g.rows}
	for y := 0; y < g.rows; y++ {
		for x := 0; x < g.cols; x++ {
			if g.at(x, y) == 0 {
				continue
			}
			if (x == 0 || g.at(x-1, y) == 1) &&
				(x == g.cols-1 || g.at(x+1, y) == 1) &&
				(y == 0 || g.at(x, y-1) == 1) &&
				(y == g.rows-1 || g.at(x, y+1) == 1) {
				out.cells[y*g.cols+x] = 1
			}
		}
	}
	return out
}

// floodFill walks the 4-connected component containing (startX, startY) and
// returns its bounds in cell coordinates, Max exclusive.
func floodFill(g *grid, visited []byte, startX, startY int) image.Rectangle {
	bounds := image.Rect(startX, startY, startX+1, startY+1)
	stack := []image.Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= g.cols || p.Y < 0 || p.Y >= g.rows {
			continue
		}
		idx := p.Y*g.cols + p.X
		if visited[idx] != 0 || g.cells[idx] == 0 {
			continue
		}
		visited[idx] = 1
		bounds = bounds.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))

		stack = append(stack,
			image.Point{X: p.X + 1, Y: p.Y},
			image.Point{X: p.X - 1, Y: p.Y},
			image.Point{X: p.X, Y: p.Y + 1},
			image.Point{X: p.X, Y: p.Y - 1},
		)
	}
	return bounds
}
