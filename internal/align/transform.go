package align

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"faceprep/internal/geometry"
)

const (
	// minPairDistance rejects coincident sample points when building a
	// candidate from a minimal 2-point sample.
	minPairDistance = 1e-3

	// residualFloor keeps the inlier threshold positive when the median
	// residual is zero (exact correspondences).
	residualFloor = 1e-6
)

// EstimateSimilarity computes the 2D similarity transform (rotation, uniform
// scale, translation) mapping src points onto dst points. The fit is robust
// in the LMedS style: every 2-point minimal sample proposes an exact
// candidate, the candidate with the least median squared residual selects the
// inlier set, and the final transform is a least-squares refit over the
// inliers. A single mislocated landmark among five therefore does not skew
// the result. Degenerate configurations (coincident points) yield an error,
// never a panic: per-record failures must not abort a batch.
func EstimateSimilarity(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	if len(src) != len(dst) {
		return geometry.AffineTransform{}, fmt.Errorf("point count mismatch: %d vs %d", len(src), len(dst))
	}
	n := len(src)
	if n < 2 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 2 points, got %d", n)
	}

	bestMedian := math.Inf(1)
	var bestTransform geometry.AffineTransform
	found := false

	residuals := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			cand, err := similarityFrom2(src[i], src[j], dst[i], dst[j])
			if err != nil {
				continue
			}
			for k := range src {
				d := cand.Apply(src[k]).Distance(dst[k])
				residuals[k] = d * d
			}
			med := median(residuals)
			if med < bestMedian {
				bestMedian = med
				bestTransform = cand
				found = true
			}
		}
	}
	if !found {
		return geometry.AffineTransform{}, fmt.Errorf("degenerate point configuration: no usable point pair")
	}

	// Robust scale estimate from the best median, then refit on inliers.
	sigma := 1.4826 * (1 + 5/float64(max(n-2, 1))) * math.Sqrt(bestMedian)
	threshold := math.Max(2.5*sigma, residualFloor)

	inSrc := make([]geometry.Point2D, 0, n)
	inDst := make([]geometry.Point2D, 0, n)
	for k := range src {
		if bestTransform.Apply(src[k]).Distance(dst[k]) <= threshold {
			inSrc = append(inSrc, src[k])
			inDst = append(inDst, dst[k])
		}
	}
	if len(inSrc) < 2 {
		return geometry.AffineTransform{}, fmt.Errorf("robust fit kept %d inliers, need at least 2", len(inSrc))
	}

	refit, err := similarityLeastSquares(inSrc, inDst)
	if err != nil {
		// Refit can fail on a numerically hostile inlier set; the minimal
		// candidate is still a valid similarity.
		return bestTransform, nil
	}
	if s := refit.Scale(); s < 1e-9 || math.IsNaN(s) || math.IsInf(s, 0) {
		return geometry.AffineTransform{}, fmt.Errorf("estimated transform collapsed (scale %g)", s)
	}
	return refit, nil
}

// similarityFrom2 computes the exact similarity mapping two source points
// onto two destination points.
func similarityFrom2(s0, s1, d0, d1 geometry.Point2D) (geometry.AffineTransform, error) {
	sx, sy := s1.X-s0.X, s1.Y-s0.Y
	dx, dy := d1.X-d0.X, d1.Y-d0.Y

	srcLen := math.Hypot(sx, sy)
	if srcLen < minPairDistance {
		return geometry.AffineTransform{}, fmt.Errorf("degenerate points")
	}

	// Complex division (dx+i*dy)/(sx+i*sy) gives a = s*cos(theta),
	// b = s*sin(theta) in one step.
	den := sx*sx + sy*sy
	a := (dx*sx + dy*sy) / den
	b := (dy*sx - dx*sy) / den

	tx := d0.X - (a*s0.X - b*s0.Y)
	ty := d0.Y - (b*s0.X + a*s0.Y)

	return geometry.AffineTransform{
		A: a, B: -b, TX: tx,
		C: b, D: a, TY: ty,
	}, nil
}

// similarityLeastSquares solves the overdetermined system for the best
// similarity over all point pairs using QR decomposition. Unknowns are
// (a, b, tx, ty) with x' = a*x - b*y + tx, y' = b*x + a*y + ty.
func similarityLeastSquares(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	n := len(src)
	if n < 2 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 2 points")
	}

	A := mat.NewDense(n*2, 4, nil)
	B := mat.NewVecDense(n*2, nil)

	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y
		xp, yp := dst[i].X, dst[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, -y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, xp)

		A.Set(i*2+1, 0, y)
		A.Set(i*2+1, 1, x)
		A.Set(i*2+1, 3, 1)
		B.SetVec(i*2+1, yp)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, err
	}

	a := params.AtVec(0)
	b := params.AtVec(1)
	return geometry.AffineTransform{
		A: a, B: -b, TX: params.AtVec(2),
		C: b, D: a, TY: params.AtVec(3),
	}, nil
}

// MeanResidual reports the mean distance between transformed source points
// and their destinations, useful for logging alignment quality.
func MeanResidual(t geometry.AffineTransform, src, dst []geometry.Point2D) float64 {
	if len(src) != len(dst) || len(src) == 0 {
		return math.Inf(1)
	}
	var total float64
	for i := range src {
		total += t.Apply(src[i]).Distance(dst[i])
	}
	return total / float64(len(src))
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
