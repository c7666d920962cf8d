package scoring

import (
	"math"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/davidleathers/risk-scoring-engine/internal/domain/risk"
)

const earthRadiusKm = 6371.0088

// Coordinates is a point on the globe in decimal degrees
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Place is a resolved location
type Place struct {
	Coordinates
	TimeZone string
}

// Geocoder resolves transaction locations to coordinates and time zones
type Geocoder interface {
	Resolve(loc risk.Location) (Place, bool)
}

// Haversine returns the great-circle distance in kilometres
func Haversine(a, b Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Distance returns the distance between two locations in kilometres.
// Locations in the same country are treated as 0 km apart. ok is false when
// either side cannot be resolved.
func Distance(geo Geocoder, from, to risk.Location) (km float64, ok bool) {
	if from.SameCountry(to) {
		return 0, true
	}
	if geo == nil {
		return 0, false
	}

	a, okA := geo.Resolve(from)
	b, okB := geo.Resolve(to)
	if !okA || !okB {
		return 0, false
	}
	return Haversine(a.Coordinates, b.Coordinates), true
}

var (
	zoneMu    sync.RWMutex
	zoneCache = map[string]*time.Location{}
)

func loadZone(name string) *time.Location {
	zoneMu.RLock()
	loc, ok := zoneCache[name]
	zoneMu.RUnlock()
	if ok {
		return loc
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}

	zoneMu.Lock()
	zoneCache[name] = loc
	zoneMu.Unlock()
	return loc
}

// LocalTime converts ts to the wall clock of the transaction location,
// falling back to UTC when the location has no known time zone.
func LocalTime(geo Geocoder, loc *risk.Location, ts time.Time) time.Time {
	if geo == nil || loc == nil {
		return ts.UTC()
	}
	place, ok := geo.Resolve(*loc)
	if !ok || place.TimeZone == "" {
		return ts.UTC()
	}
	return ts.In(loadZone(place.TimeZone))
}

// Gazetteer is an in-memory geocoder backed by a city and country table.
type Gazetteer struct {
	cities    map[string]Place
	countries map[string]Place
}

// NewGazetteer returns a gazetteer loaded with the built-in table
func NewGazetteer() *Gazetteer {
	g := &Gazetteer{
		cities:    make(map[string]Place, len(builtinCities)),
		countries: make(map[string]Place, len(builtinCountries)),
	}
	for code, p := range builtinCountries {
		g.countries[code] = p
	}
	for key, p := range builtinCities {
		g.cities[key] = p
	}
	return g
}

// AddCity registers or overrides a city entry
func (g *Gazetteer) AddCity(country, city string, p Place) {
	g.cities[cityKey(country, city)] = p
}

// Resolve implements Geocoder. Explicit coordinates on the location win;
// otherwise the city is looked up and then the country centroid.
func (g *Gazetteer) Resolve(loc risk.Location) (Place, bool) {
	country := strings.ToUpper(strings.TrimSpace(loc.Country))

	place, found := g.cities[cityKey(country, loc.City)]
	if !found {
		place, found = g.countries[country]
	}

	if loc.Latitude != nil && loc.Longitude != nil {
		place.Latitude = *loc.Latitude
		place.Longitude = *loc.Longitude
		return place, true
	}

	return place, found
}

// LoggingGeocoder logs every location the wrapped geocoder cannot resolve.
// Travel rules score an unresolved pair as 0 km, so each miss is a gap in
// the geodata.
type LoggingGeocoder struct {
	geo    Geocoder
	logger *zap.Logger
}

// NewLoggingGeocoder wraps geo
func NewLoggingGeocoder(geo Geocoder, logger *zap.Logger) *LoggingGeocoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingGeocoder{geo: geo, logger: logger}
}

func (g *LoggingGeocoder) Resolve(loc risk.Location) (Place, bool) {
	place, ok := g.geo.Resolve(loc)
	if !ok {
		g.logger.Debug("location could not be geocoded",
			zap.String("country", loc.Country),
			zap.String("city", loc.City))
	}
	return place, ok
}

func cityKey(country, city string) string {
	return strings.ToUpper(strings.TrimSpace(country)) + "/" + strings.ToLower(strings.TrimSpace(city))
}

func at(lat, lon float64, tz string) Place {
	return Place{Coordinates: Coordinates{Latitude: lat, Longitude: lon}, TimeZone: tz}
}

// Country entries use the capital or principal financial centre.
var builtinCountries = map[string]Place{
	"US": at(38.9072, -77.0369, "America/New_York"),
	"CA": at(45.4215, -75.6972, "America/Toronto"),
	"MX": at(19.4326, -99.1332, "America/Mexico_City"),
	"BR": at(-15.7939, -47.8828, "America/Sao_Paulo"),
	"AR": at(-34.6037, -58.3816, "America/Argentina/Buenos_Aires"),
	"CL": at(-33.4489, -70.6693, "America/Santiago"),
	"CO": at(4.7110, -74.0721, "America/Bogota"),
	"PE": at(-12.0464, -77.0428, "America/Lima"),
	"CU": at(23.1136, -82.3666, "America/Havana"),
	"GB": at(51.5074, -0.1278, "Europe/London"),
	"IE": at(53.3498, -6.2603, "Europe/Dublin"),
	"FR": at(48.8566, 2.3522, "Europe/Paris"),
	"DE": at(52.5200, 13.4050, "Europe/Berlin"),
	"NL": at(52.3676, 4.9041, "Europe/Amsterdam"),
	"BE": at(50.8503, 4.3517, "Europe/Brussels"),
	"CH": at(46.9480, 7.4474, "Europe/Zurich"),
	"AT": at(48.2082, 16.3738, "Europe/Vienna"),
	"ES": at(40.4168, -3.7038, "Europe/Madrid"),
	"PT": at(38.7223, -9.1393, "Europe/Lisbon"),
	"IT": at(41.9028, 12.4964, "Europe/Rome"),
	"SE": at(59.3293, 18.0686, "Europe/Stockholm"),
	"NO": at(59.9139, 10.7522, "Europe/Oslo"),
	"DK": at(55.6761, 12.5683, "Europe/Copenhagen"),
	"FI": at(60.1699, 24.9384, "Europe/Helsinki"),
	"PL": at(52.2297, 21.0122, "Europe/Warsaw"),
	"CZ": at(50.0755, 14.4378, "Europe/Prague"),
	"GR": at(37.9838, 23.7275, "Europe/Athens"),
	"TR": at(39.9334, 32.8597, "Europe/Istanbul"),
	"UA": at(50.4501, 30.5234, "Europe/Kyiv"),
	"RU": at(55.7558, 37.6173, "Europe/Moscow"),
	"IL": at(31.7683, 35.2137, "Asia/Jerusalem"),
	"AE": at(25.2048, 55.2708, "Asia/Dubai"),
	"SA": at(24.7136, 46.6753, "Asia/Riyadh"),
	"IR": at(35.6892, 51.3890, "Asia/Tehran"),
	"SY": at(33.5138, 36.2765, "Asia/Damascus"),
	"EG": at(30.0444, 31.2357, "Africa/Cairo"),
	"NG": at(9.0765, 7.3986, "Africa/Lagos"),
	"KE": at(-1.2921, 36.8219, "Africa/Nairobi"),
	"ZA": at(-25.7479, 28.2293, "Africa/Johannesburg"),
	"IN": at(28.6139, 77.2090, "Asia/Kolkata"),
	"PK": at(33.6844, 73.0479, "Asia/Karachi"),
	"CN": at(39.9042, 116.4074, "Asia/Shanghai"),
	"HK": at(22.3193, 114.1694, "Asia/Hong_Kong"),
	"KP": at(39.0392, 125.7625, "Asia/Pyongyang"),
	"KR": at(37.5665, 126.9780, "Asia/Seoul"),
	"JP": at(35.6762, 139.6503, "Asia/Tokyo"),
	"SG": at(1.3521, 103.8198, "Asia/Singapore"),
	"TH": at(13.7563, 100.5018, "Asia/Bangkok"),
	"ID": at(-6.2088, 106.8456, "Asia/Jakarta"),
	"PH": at(14.5995, 120.9842, "Asia/Manila"),
	"VN": at(21.0278, 105.8342, "Asia/Ho_Chi_Minh"),
	"AU": at(-35.2809, 149.1300, "Australia/Sydney"),
	"NZ": at(-41.2865, 174.7762, "Pacific/Auckland"),
}

var builtinCities = map[string]Place{
	"US/new york":      at(40.7128, -74.0060, "America/New_York"),
	"US/chicago":       at(41.8781, -87.6298, "America/Chicago"),
	"US/los angeles":   at(34.0522, -118.2437, "America/Los_Angeles"),
	"US/san francisco": at(37.7749, -122.4194, "America/Los_Angeles"),
	"US/seattle":       at(47.6062, -122.3321, "America/Los_Angeles"),
	"US/denver":        at(39.7392, -104.9903, "America/Denver"),
	"US/miami":         at(25.7617, -80.1918, "America/New_York"),
	"US/dallas":        at(32.7767, -96.7970, "America/Chicago"),
	"CA/toronto":       at(43.6532, -79.3832, "America/Toronto"),
	"CA/vancouver":     at(49.2827, -123.1207, "America/Vancouver"),
	"GB/london":        at(51.5074, -0.1278, "Europe/London"),
	"GB/manchester":    at(53.4808, -2.2426, "Europe/London"),
	"FR/paris":         at(48.8566, 2.3522, "Europe/Paris"),
	"DE/berlin":        at(52.5200, 13.4050, "Europe/Berlin"),
	"DE/frankfurt":     at(50.1109, 8.6821, "Europe/Berlin"),
	"ES/barcelona":     at(41.3874, 2.1686, "Europe/Madrid"),
	"IT/milan":         at(45.4642, 9.1900, "Europe/Rome"),
	"CH/zurich":        at(47.3769, 8.5417, "Europe/Zurich"),
	"NL/amsterdam":     at(52.3676, 4.9041, "Europe/Amsterdam"),
	"AE/dubai":         at(25.2048, 55.2708, "Asia/Dubai"),
	"IN/mumbai":        at(19.0760, 72.8777, "Asia/Kolkata"),
	"CN/shanghai":      at(31.2304, 121.4737, "Asia/Shanghai"),
	"JP/osaka":         at(34.6937, 135.5023, "Asia/Tokyo"),
	"AU/sydney":        at(-33.8688, 151.2093, "Australia/Sydney"),
	"AU/melbourne":     at(-37.8136, 144.9631, "Australia/Melbourne"),
	"BR/sao paulo":     at(-23.5505, -46.6333, "America/Sao_Paulo"),
}
