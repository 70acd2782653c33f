// Package align converts raw, loosely-cropped face images and their bounding
// boxes into a canonical fixed-size frame using sparse landmark
// correspondences.
package align

import "faceprep/internal/geometry"

// TargetSize is the reference canonical canvas edge in pixels.
const TargetSize = 256

// NumLandmarks is the number of landmark correspondences per face:
// eyes, nose tip, mouth corners.
const NumLandmarks = 5

// canonical5pt holds the target landmark positions in the 256x256 frame.
var canonical5pt = [NumLandmarks]geometry.Point2D{
	{X: 70, Y: 100},  // left eye
	{X: 186, Y: 100}, // right eye
	{X: 128, Y: 142}, // nose
	{X: 88, Y: 182},  // left mouth
	{X: 168, Y: 182}, // right mouth
}

// CanonicalPoints returns the target landmark positions for a canvas of the
// given edge length, scaled from the 256 reference layout. Both the image
// warp pass and the bbox transform pass must use this same layout; any
// divergence between the two is a correctness bug.
func CanonicalPoints(size int) [NumLandmarks]geometry.Point2D {
	var pts [NumLandmarks]geometry.Point2D
	scale := float64(size) / float64(TargetSize)
	for i, p := range canonical5pt {
		pts[i] = geometry.Point2D{X: p.X * scale, Y: p.Y * scale}
	}
	return pts
}

// LandmarksInBounds reports whether every landmark lies inside a w x h source
// image. Out-of-bound landmarks reject the record before any transform is
// attempted.
func LandmarksInBounds(pts [NumLandmarks]geometry.Point2D, w, h int) bool {
	for _, p := range pts {
		if p.X < 0 || p.X >= float64(w) || p.Y < 0 || p.Y >= float64(h) {
			return false
		}
	}
	return true
}
