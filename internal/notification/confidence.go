package notification

import (
	"math"

	"github.com/tphakala/geonudge/internal/datastore/entities"
)

const earthRadiusMeters = 6371000.0

// ConfidenceCurve maps distance/radius to a confidence score. Scores are
// interpolated linearly between the anchors: 1.0 at CoreRatio,
// BoundaryScore at ratio 1 and 0.0 at OuterRatio.
type ConfidenceCurve struct {
	CoreRatio     float64
	BoundaryScore float64
	OuterRatio    float64
}

// DefaultConfidenceCurve returns the default anchors.
func DefaultConfidenceCurve() ConfidenceCurve {
	return ConfidenceCurve{CoreRatio: 0.5, BoundaryScore: 0.75, OuterRatio: 2.0}
}

// Valid reports whether the anchors are ordered.
func (c ConfidenceCurve) Valid() bool {
	return c.CoreRatio > 0 && c.CoreRatio < 1 &&
		c.OuterRatio > 1 &&
		c.BoundaryScore > 0 && c.BoundaryScore < 1
}

// Score returns the entry confidence for ratio.
func (c ConfidenceCurve) Score(ratio float64) float64 {
	switch {
	case ratio <= c.CoreRatio:
		return 1
	case ratio <= 1:
		t := (ratio - c.CoreRatio) / (1 - c.CoreRatio)
		return 1 - t*(1-c.BoundaryScore)
	case ratio < c.OuterRatio:
		t := (ratio - 1) / (c.OuterRatio - 1)
		return c.BoundaryScore * (1 - t)
	default:
		return 0
	}
}

// Confidence scores a report against its geofence. Exit events are scored
// on the mirrored ratio so that being far outside the fence is certain.
// A GPS fix less precise than the fence radius scales the score down.
func (c ConfidenceCurve) Confidence(eventType entities.EventType, lat, lon float64, accuracy *float64, fence Geofence) float64 {
	ratio := HaversineMeters(lat, lon, fence.Latitude, fence.Longitude) / fence.RadiusMeters

	var score float64
	if eventType == entities.EventExit {
		score = c.Score(2 - ratio)
	} else {
		score = c.Score(ratio)
	}

	if accuracy != nil && *accuracy > fence.RadiusMeters {
		score *= fence.RadiusMeters / *accuracy
	}
	return clamp01(score)
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
