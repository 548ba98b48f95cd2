// Package geometry computes the aspect-preserving quad a frame is drawn into
package geometry

// Quad holds the four NDC corners of a triangle strip as x,y pairs in the
// order bottom-left, bottom-right, top-left, top-right.
type Quad [8]float32

// FullQuad covers the whole viewport
var FullQuad = Quad{
	-1, -1,
	1, -1,
	-1, 1,
	1, 1,
}

var (
	texNormal = [8]float32{
		0, 1,
		1, 1,
		0, 0,
		1, 0,
	}
	texMirror = [8]float32{
		1, 1,
		0, 1,
		1, 0,
		0, 0,
	}
)

// Scale returns the x and y half-extents of the fitted quad for a source of
// srcW x srcH shown in a vpW x vpH viewport. The wider of the two aspects
// decides which axis fills the viewport; the other axis shrinks. Any
// non-positive dimension yields (1, 1).
func Scale(srcW, srcH, vpW, vpH int) (float32, float32) {
	if srcW <= 0 || srcH <= 0 || vpW <= 0 || vpH <= 0 {
		return 1, 1
	}

	srcAspect := float64(srcW) / float64(srcH)
	vpAspect := float64(vpW) / float64(vpH)

	if srcAspect > vpAspect {
		return 1, float32(vpAspect / srcAspect)
	}
	return float32(srcAspect / vpAspect), 1
}

// Fit returns the letterboxed (or pillarboxed) quad for the given source and
// viewport sizes
func Fit(srcW, srcH, vpW, vpH int) Quad {
	sx, sy := Scale(srcW, srcH, vpW, vpH)
	return Quad{
		-sx, -sy,
		sx, -sy,
		-sx, sy,
		sx, sy,
	}
}

// TexCoords returns the texture coordinates matching a Quad's corner order.
// Mirroring flips the image horizontally.
func TexCoords(mirror bool) [8]float32 {
	if mirror {
		return texMirror
	}
	return texNormal
}
