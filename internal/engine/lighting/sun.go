// Package lighting provides lighting utilities for 3D rendering.
package lighting

import "math"

// SunDirection converts compass angles in degrees to a unit vector pointing
// toward the sun. Longitude turns around the Y axis starting at +Z, latitude
// is the elevation above the horizon.
func SunDirection(longitude, latitude float32) [3]float32 {
	lon := float64(longitude) * math.Pi / 180
	lat := float64(latitude) * math.Pi / 180

	x := float32(math.Cos(lat) * math.Sin(lon))
	y := float32(math.Sin(lat))
	z := float32(math.Cos(lat) * math.Cos(lon))
	return [3]float32{x, y, z}
}
