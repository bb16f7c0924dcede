package mapview

import (
	"go.uber.org/zap"

	"github.com/trailmark/backend/internal/cluster"
	"github.com/trailmark/backend/internal/models"
)

// ToPoints projects pins to clustering input points, one feature per pin.
// Pins with malformed coordinates are dropped with a warning rather than
// propagated: one bad record must not blank the map.
func ToPoints(pins []models.Pin, log *zap.SugaredLogger) []cluster.Point {
	if log == nil {
		log = zap.S()
	}
	points := make([]cluster.Point, 0, len(pins))
	for _, p := range pins {
		if !p.HasValidLocation() {
			log.Warnf("[mapview] dropping pin %s: malformed location %v", p.ID, p.Location)
			continue
		}
		points = append(points, cluster.Point{
			ID:        p.ID,
			CreatorID: p.CreatorID,
			Lng:       p.Location[0],
			Lat:       p.Location[1],
			Pin:       p,
		})
	}
	return points
}
