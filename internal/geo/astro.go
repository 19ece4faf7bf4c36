// Package geo computes sun times for a location and resolves place names to
// coordinates.
package geo

import (
	"math"
	"time"
)

// SunTimes are the solar events of one local day.
type SunTimes struct {
	Dawn    time.Time `json:"dawn"`
	Sunrise time.Time `json:"sunrise"`
	Noon    time.Time `json:"noon"`
	Sunset  time.Time `json:"sunset"`
	Dusk    time.Time `json:"dusk"`
}

// Solar depression angles in degrees.
const (
	horizonAngle = -0.833 // sunrise and sunset, accounting for refraction
	civilAngle   = -6.0   // civil dawn and dusk
)

// Sun computes the sun times at lat/lon on the local date of day in loc,
// using the NOAA sunrise equation. In polar day or night the hour angle is
// clamped, so sunrise and sunset collapse onto solar noon or midnight.
func Sun(lat, lon float64, day time.Time, loc *time.Location) SunTimes {
	if loc == nil {
		loc = time.UTC
	}
	local := day.In(loc)

	// The equation expects the Julian day at noon.
	jd := julianDay(local.Year(), int(local.Month()), local.Day()) + 0.5
	s := newSolarDay(jd, lon)

	return SunTimes{
		Dawn:    s.event(lat, civilAngle, true).In(loc),
		Sunrise: s.event(lat, horizonAngle, true).In(loc),
		Noon:    fromJulian(s.transit).In(loc),
		Sunset:  s.event(lat, horizonAngle, false).In(loc),
		Dusk:    s.event(lat, civilAngle, false).In(loc),
	}
}

type solarDay struct {
	transit     float64 // Julian date of solar noon
	declination float64 // radians
}

func newSolarDay(jd, lon float64) solarDay {
	n := jd - 2451545.0 + 0.0008
	meanNoon := n - lon/360.0

	anomaly := radians(math.Mod(357.5291+0.98560028*meanNoon, 360.0))
	center := 1.9148*math.Sin(anomaly) + 0.02*math.Sin(2*anomaly) + 0.0003*math.Sin(3*anomaly)
	ecliptic := radians(math.Mod(degrees(anomaly)+center+180+102.9372, 360.0))

	return solarDay{
		transit:     2451545.0 + meanNoon + 0.0053*math.Sin(anomaly) - 0.0069*math.Sin(2*ecliptic),
		declination: math.Asin(math.Sin(ecliptic) * math.Sin(radians(23.44))),
	}
}

// event returns the instant the sun crosses angle degrees, rising or setting.
func (s solarDay) event(lat, angle float64, rising bool) time.Time {
	phi := radians(lat)
	cosOmega := (math.Sin(radians(angle)) - math.Sin(phi)*math.Sin(s.declination)) /
		(math.Cos(phi) * math.Cos(s.declination))
	cosOmega = math.Max(-1, math.Min(1, cosOmega))

	omega := degrees(math.Acos(cosOmega))
	if rising {
		return fromJulian(s.transit - omega/360.0)
	}
	return fromJulian(s.transit + omega/360.0)
}

func julianDay(year, month, day int) float64 {
	y, m := float64(year), float64(month)
	if m <= 2 {
		y--
		m += 12
	}
	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)
	return math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + float64(day) + b - 1524.5
}

func fromJulian(jd float64) time.Time {
	unix := (jd - 2440587.5) * 86400.0
	sec := math.Floor(unix)
	return time.Unix(int64(sec), int64((unix-sec)*1e9)).UTC()
}

func radians(deg float64) float64 { return deg * math.Pi / 180.0 }
func degrees(rad float64) float64 { return rad * 180.0 / math.Pi }
