package find

import "github.com/robalyx/resonance/internal/database/types"

// Bucket boundaries in meters. A distance equal to a boundary falls in the closer bucket.
const (
	FarThresholdMeters   = 500.0
	WarmThresholdMeters  = 100.0
	CloseThresholdMeters = 20.0
)

// BucketFor maps a distance in meters to its bucket.
func BucketFor(distanceMeters float64) types.Bucket {
	switch {
	case distanceMeters > FarThresholdMeters:
		return types.BucketFar
	case distanceMeters > WarmThresholdMeters:
		return types.BucketWarm
	case distanceMeters > CloseThresholdMeters:
		return types.BucketClose
	default:
		return types.BucketFound
	}
}
