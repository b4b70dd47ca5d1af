// Package geo resolves place names to coordinates.
//
// Resolution is layered: a preseeded dictionary of Medan landmarks
// answers the names buyers actually type (campuses, malls, hospitals,
// industrial estates) without any network call; everything else goes
// through a TTL cache and then the provider chain. Provider results
// land in the runtime cache only, never in the dictionary.
package geo

import "strings"

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// medanLandmarks is the preseeded dictionary. Keys are normalized
// (lowercase, single-spaced); common abbreviations alias the same
// point as the full name. Coordinates are building centroids, close
// enough for a 2 km proximity circle.
var medanLandmarks = map[string]Point{
	// Universities.
	"usu":                         {Lat: 3.5656, Lng: 98.6565},
	"universitas sumatera utara":  {Lat: 3.5656, Lng: 98.6565},
	"unimed":                      {Lat: 3.6070, Lng: 98.7172},
	"universitas negeri medan":    {Lat: 3.6070, Lng: 98.7172},
	"umsu":                        {Lat: 3.6067, Lng: 98.6650},
	"uinsu":                       {Lat: 3.6121, Lng: 98.7113},
	"universitas hkbp nommensen":  {Lat: 3.5862, Lng: 98.6932},
	"polmed":                      {Lat: 3.5620, Lng: 98.6530},
	"politeknik negeri medan":     {Lat: 3.5620, Lng: 98.6530},
	"universitas methodist medan": {Lat: 3.5831, Lng: 98.6763},
	"universitas prima indonesia": {Lat: 3.5977, Lng: 98.6643},

	// Malls.
	"sun plaza":              {Lat: 3.5844, Lng: 98.6711},
	"centre point":           {Lat: 3.5911, Lng: 98.6800},
	"centre point medan":     {Lat: 3.5911, Lng: 98.6800},
	"plaza medan fair":       {Lat: 3.5946, Lng: 98.6527},
	"medan fair":             {Lat: 3.5946, Lng: 98.6527},
	"delipark":               {Lat: 3.5800, Lng: 98.6691},
	"delipark podomoro":      {Lat: 3.5800, Lng: 98.6691},
	"podomoro city deli":     {Lat: 3.5800, Lng: 98.6691},
	"manhattan times square": {Lat: 3.5620, Lng: 98.6190},
	"ringroad citywalks":     {Lat: 3.5690, Lng: 98.6210},
	"cambridge city square":  {Lat: 3.5840, Lng: 98.6650},

	// Hospitals.
	"rs adam malik":          {Lat: 3.5084, Lng: 98.6070},
	"rsup haji adam malik":   {Lat: 3.5084, Lng: 98.6070},
	"rs columbia asia":       {Lat: 3.5790, Lng: 98.6640},
	"rs murni teguh":         {Lat: 3.5960, Lng: 98.6850},
	"rs siloam dhirga surya": {Lat: 3.5880, Lng: 98.6680},
	"rs elisabeth":           {Lat: 3.5751, Lng: 98.6780},
	"rs santa elisabeth":     {Lat: 3.5751, Lng: 98.6780},

	// Industrial estates.
	"kim":                     {Lat: 3.6770, Lng: 98.7300},
	"kawasan industri medan":  {Lat: 3.6770, Lng: 98.7300},
	"kim star":                {Lat: 3.5100, Lng: 98.8050},
	"kim star tanjung morawa": {Lat: 3.5100, Lng: 98.8050},

	// City landmarks and transport.
	"istana maimun":         {Lat: 3.5752, Lng: 98.6837},
	"masjid raya al mashun": {Lat: 3.5754, Lng: 98.6870},
	"masjid raya medan":     {Lat: 3.5754, Lng: 98.6870},
	"lapangan merdeka":      {Lat: 3.5911, Lng: 98.6780},
	"merdeka walk":          {Lat: 3.5913, Lng: 98.6776},
	"stasiun medan":         {Lat: 3.5906, Lng: 98.6790},
	"kesawan":               {Lat: 3.5880, Lng: 98.6795},
	"kualanamu":             {Lat: 3.6422, Lng: 98.8853},
	"bandara kualanamu":     {Lat: 3.6422, Lng: 98.8853},
}

// normalizeKey canonicalizes a place name for dictionary and cache
// lookups: lowercase, trimmed, runs of whitespace collapsed, and the
// punctuation people vary on ("Al-Mashun" vs "Al Mashun") unified.
func normalizeKey(place string) string {
	s := strings.ToLower(strings.TrimSpace(place))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, ".", " ")
	return strings.Join(strings.Fields(s), " ")
}

// lookupLandmark checks the preseeded dictionary.
func lookupLandmark(place string) (Point, bool) {
	pt, ok := medanLandmarks[normalizeKey(place)]
	return pt, ok
}
