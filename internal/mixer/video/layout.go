package video

// tile is one cell of a recipient's grid: a pixel-space rectangle and the
// source assigned to it (or nil for an empty cell when the source count
// doesn't evenly fill the grid).
type tile struct {
	x, y, w, h int
	sourceIdx  int // index into the sources slice, -1 if empty
}

// gridDims picks rows x cols for n visible sources against a w x h
// viewport, minimizing wasted cells (rows*cols - n) and, among
// equal-waste candidates, preferring the grid whose aspect ratio
// (cols/rows) is closest to w/h; a further tie falls back to more
// columns, matching a typical video-conferencing gallery layout.
func gridDims(n, w, h int) (rows, cols int) {
	if n <= 0 {
		return 1, 1
	}
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	target := float64(w) / float64(h)

	bestRows, bestCols := 1, n
	bestWaste := 1<<31 - 1
	bestRatioDiff := -1.0
	for r := 1; r <= n; r++ {
		c := (n + r - 1) / r
		waste := r*c - n
		ratioDiff := target - float64(c)/float64(r)
		if ratioDiff < 0 {
			ratioDiff = -ratioDiff
		}
		switch {
		case waste < bestWaste:
			bestWaste, bestRatioDiff, bestRows, bestCols = waste, ratioDiff, r, c
		case waste == bestWaste && ratioDiff < bestRatioDiff:
			bestRatioDiff, bestRows, bestCols = ratioDiff, r, c
		case waste == bestWaste && ratioDiff == bestRatioDiff && c > bestCols:
			bestRows, bestCols = r, c
		}
	}
	return bestRows, bestCols
}

// layoutTiles partitions a W x H viewport into rows x cols tiles,
// distributing any remainder pixels to the leftmost/topmost tiles, and
// assigns the first n tiles (in row-major order) to sources 0..n-1.
func layoutTiles(w, h, n int) []tile {
	rows, cols := gridDims(n, w, h)
	baseW, extraW := w/cols, w%cols
	baseH, extraH := h/rows, h%rows

	tiles := make([]tile, 0, rows*cols)
	y := 0
	idx := 0
	for r := 0; r < rows; r++ {
		th := baseH
		if r < extraH {
			th++
		}
		x := 0
		for c := 0; c < cols; c++ {
			tw := baseW
			if c < extraW {
				tw++
			}
			srcIdx := -1
			if idx < n {
				srcIdx = idx
			}
			tiles = append(tiles, tile{x: x, y: y, w: tw, h: th, sourceIdx: srcIdx})
			x += tw
			idx++
		}
		y += th
	}
	return tiles
}
