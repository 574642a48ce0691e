package geometry

import "math"

// LayoutChangeConfig tunes the conservative layout-change detector.
// Per Design Notes §9, false positives (spurious regenerate) are more
// harmful than false negatives (refining a genuinely new layout as if it
// were the old one), so both signals must agree before a "changed"
// verdict is returned.
type LayoutChangeConfig struct {
	BoundingBoxDeltaFraction float64 // e.g. 0.15 = 15% change in bbox diagonal
	MeanResidualFraction     float64 // e.g. 0.10 = mean point-to-path residual as a fraction of bbox diagonal
}

// DefaultLayoutChangeConfig returns conservative thresholds.
func DefaultLayoutChangeConfig() LayoutChangeConfig {
	return LayoutChangeConfig{
		BoundingBoxDeltaFraction: 0.15,
		MeanResidualFraction:     0.10,
	}
}

// boundingBox returns (minX, minY, maxX, maxY) for path.
func boundingBox(path Path) (minX, minY, maxX, maxY float64) {
	if len(path) == 0 {
		return
	}
	minX, minY = path[0].X, path[0].Y
	maxX, maxY = path[0].X, path[0].Y
	for _, p := range path[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return
}

func bboxDiagonal(path Path) float64 {
	minX, minY, maxX, maxY := boundingBox(path)
	return Point{minX, minY}.distanceTo(Point{maxX, maxY})
}

// meanResidual approximates a Hausdorff-like distance: the mean, over
// newPath's points, of each point's distance to its nearest point on
// existing.
func meanResidual(newPath, existing Path) float64 {
	if len(newPath) == 0 || len(existing) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for _, np := range newPath {
		best := math.Inf(1)
		for i := 0; i < len(existing)-1; i++ {
			proj, _ := projectOntoSegment(np, existing[i], existing[i+1])
			d := np.distanceTo(proj)
			if d < best {
				best = d
			}
		}
		sum += best
	}
	return sum / float64(len(newPath))
}

// DetectLayoutChange reports whether newPath represents a materially
// different track layout than existing, using the bounding-box delta and
// mean residual together — both must exceed their thresholds (see
// LayoutChangeConfig's doc) to avoid false positives.
func DetectLayoutChange(existing, newPath Path, cfg LayoutChangeConfig) bool {
	if len(existing) == 0 {
		return false // nothing to compare against; treat as "build", not "change"
	}
	if len(newPath) == 0 {
		return false
	}

	existingDiag := bboxDiagonal(existing)
	newDiag := bboxDiagonal(newPath)
	if existingDiag <= 0 {
		return false
	}
	bboxDelta := absf(newDiag-existingDiag) / existingDiag

	residual := meanResidual(newPath, existing)
	residualFraction := residual / existingDiag

	return bboxDelta > cfg.BoundingBoxDeltaFraction && residualFraction > cfg.MeanResidualFraction
}
