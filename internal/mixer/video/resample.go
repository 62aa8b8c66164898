package video

// resampleCell box/area-averages src (w x h, packed RGB) down (or up) to
// one destW x destH grid of average-color cells, used to map a source
// frame onto a tile's glyph-grid resolution before quantization.
func resampleCell(src []byte, srcW, srcH, destW, destH int) []byte {
	out := make([]byte, destW*destH*3)
	if srcW <= 0 || srcH <= 0 || destW <= 0 || destH <= 0 {
		return out
	}
	for dy := 0; dy < destH; dy++ {
		y0 := dy * srcH / destH
		y1 := (dy + 1) * srcH / destH
		if y1 <= y0 {
			y1 = y0 + 1
		}
		if y1 > srcH {
			y1 = srcH
		}
		for dx := 0; dx < destW; dx++ {
			x0 := dx * srcW / destW
			x1 := (dx + 1) * srcW / destW
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if x1 > srcW {
				x1 = srcW
			}

			var sumR, sumG, sumB, count int
			for y := y0; y < y1; y++ {
				rowOff := y * srcW * 3
				for x := x0; x < x1; x++ {
					pi := rowOff + x*3
					sumR += int(src[pi])
					sumG += int(src[pi+1])
					sumB += int(src[pi+2])
					count++
				}
			}
			oi := (dy*destW + dx) * 3
			if count == 0 {
				continue
			}
			out[oi] = byte(sumR / count)
			out[oi+1] = byte(sumG / count)
			out[oi+2] = byte(sumB / count)
		}
	}
	return out
}

// letterboxRect returns the centered destW x destH sub-rectangle
// (within a gridW x gridH cell grid) that preserves the source's aspect
// ratio, leaving the remaining cells blank.
func letterboxRect(gridW, gridH, srcW, srcH int) (x0, y0, w, h int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0, gridW, gridH
	}
	srcAspect := float64(srcW) / float64(srcH)
	gridAspect := float64(gridW) / float64(gridH)

	if srcAspect > gridAspect {
		w = gridW
		h = int(float64(gridW) / srcAspect)
		if h < 1 {
			h = 1
		}
	} else {
		h = gridH
		w = int(float64(gridH) * srcAspect)
		if w < 1 {
			w = 1
		}
	}
	x0 = (gridW - w) / 2
	y0 = (gridH - h) / 2
	return x0, y0, w, h
}
