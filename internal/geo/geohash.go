package geo

import (
	"strings"

	"github.com/mmcloughlin/geohash"
	"github.com/robalyx/resonance/internal/apperr"
)

const (
	// MaxGeohashLength is the longest geohash accepted from clients.
	MaxGeohashLength = 12

	// Bucket precisions used by the coarse index, chosen from the search radius.
	CoarsePrecision = 5
	MediumPrecision = 6
	FinePrecision   = 7
)

// BucketPrecisions lists every prefix length the coarse index is keyed on.
var BucketPrecisions = []int{CoarsePrecision, MediumPrecision, FinePrecision} //nolint:gochecknoglobals // -

// Encode returns the geohash of p with the given number of characters.
func Encode(p Point, precision int) string {
	return geohash.EncodeWithPrecision(p.Latitude, p.Longitude, uint(precision))
}

// ParseGeohash normalizes hash and rejects strings that are not valid geohashes.
func ParseGeohash(hash string) (string, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" || len(hash) > MaxGeohashLength {
		return "", apperr.BadRequest("invalid geohash length %d", len(hash))
	}

	if err := geohash.Validate(hash); err != nil {
		return "", apperr.BadRequest("invalid geohash %q: %v", hash, err)
	}

	return hash, nil
}

// Truncate shortens hash to precision characters.
func Truncate(hash string, precision int) string {
	if precision <= 0 || precision >= len(hash) {
		return hash
	}

	return hash[:precision]
}

// DecodeCenter returns the center point of the cell described by hash.
func DecodeCenter(hash string) (Point, error) {
	hash, err := ParseGeohash(hash)
	if err != nil {
		return Point{}, err
	}

	lat, lng := geohash.DecodeCenter(hash)

	return Point{Latitude: lat, Longitude: lng}, nil
}

// SearchPrecision picks the bucket precision for a search radius:
// 7 characters up to 150m, 6 up to 1km, 5 beyond.
func SearchPrecision(radiusKm float64) int {
	switch {
	case radiusKm <= 0.15:
		return FinePrecision
	case radiusKm <= 1:
		return MediumPrecision
	default:
		return CoarsePrecision
	}
}

// BucketNeighbors returns hash followed by its eight neighboring cells.
func BucketNeighbors(hash string) ([]string, error) {
	hash, err := ParseGeohash(hash)
	if err != nil {
		return nil, err
	}

	cells := make([]string, 0, 9)
	cells = append(cells, hash)
	cells = append(cells, geohash.Neighbors(hash)...)

	return cells, nil
}
