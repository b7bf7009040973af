// Package geo implements the spatial secondary structure kept for every GEO
// field of an index. Points are bucketed by geohash cell; each cell holds a
// bitmap of the internal document ids located in it.
package geo

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	bgeo "github.com/blevesearch/bleve/v2/geo"
)

// cellPrecision is the geohash length used for bucketing (~4.9km x 4.9km).
const cellPrecision = 5

// Point is a longitude/latitude pair in degrees.
type Point struct {
	Lon float64
	Lat float64
}

func (p Point) String() string {
	return strconv.FormatFloat(p.Lon, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat, 'f', -1, 64)
}

// ParsePoint parses "lon,lat" (the field value format of GEO fields).
func ParsePoint(s string) (Point, error) {
	lonStr, latStr, ok := strings.Cut(s, ",")
	if !ok {
		lonStr, latStr, ok = strings.Cut(strings.TrimSpace(s), " ")
	}
	if !ok {
		return Point{}, fmt.Errorf("invalid geo value %q: expected \"lon,lat\"", s)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	if lon < -180 || lon > 180 || lat < -maxLat || lat > maxLat {
		return Point{}, fmt.Errorf("geo value %q out of range", s)
	}
	return Point{Lon: lon, Lat: lat}, nil
}

// Index is not safe for concurrent use. Callers hold the registry lock.
type Index struct {
	field  string
	cells  map[string]*roaring64.Bitmap
	points map[uint64]Point
}

func New(field string) *Index {
	return &Index{
		field:  field,
		cells:  make(map[string]*roaring64.Bitmap),
		points: make(map[uint64]Point),
	}
}

func (x *Index) Field() string { return x.field }

// Add records the location of a document, replacing any previous entry.
func (x *Index) Add(id uint64, p Point) {
	x.RemoveEntries(id)
	c := cellOf(p)
	bm, ok := x.cells[c]
	if !ok {
		bm = roaring64.New()
		x.cells[c] = bm
	}
	bm.Add(id)
	x.points[id] = p
}

// RemoveEntries drops every entry tied to id and returns how many were
// removed. Calling it for an id with no entries is a no-op.
func (x *Index) RemoveEntries(id uint64) int {
	p, ok := x.points[id]
	if !ok {
		return 0
	}
	delete(x.points, id)
	c := cellOf(p)
	if bm, ok := x.cells[c]; ok {
		bm.Remove(id)
	}
	return 1
}

// Point returns the stored location for id.
func (x *Index) Point(id uint64) (Point, bool) {
	p, ok := x.points[id]
	return p, ok
}

// Len returns the number of indexed points.
func (x *Index) Len() int {
	return len(x.points)
}

// Compact removes empty cells left behind by removals and returns the number
// of cells dropped.
func (x *Index) Compact() int {
	dropped := 0
	for c, bm := range x.cells {
		if bm.IsEmpty() {
			delete(x.cells, c)
			dropped++
		}
	}
	return dropped
}

// Cells returns the number of allocated cells, empty ones included.
func (x *Index) Cells() int {
	return len(x.cells)
}

// Radius returns the ids within radius (e.g. "10km", "500m", "3mi") of the
// center, ordered by distance. Wide searches skip the cell walk and test
// every stored point, so the cost is bounded by the index size.
func (x *Index) Radius(center Point, radius string) ([]uint64, error) {
	meters, err := bgeo.ParseDistance(radius)
	if err != nil {
		return nil, fmt.Errorf("parsing radius %q: %w", radius, err)
	}
	type hit struct {
		id   uint64
		dist float64
	}
	var hits []hit
	check := func(id uint64, p Point) {
		d := bgeo.Haversin(center.Lon, center.Lat, p.Lon, p.Lat) * 1000
		if d <= meters {
			hits = append(hits, hit{id: id, dist: d})
		}
	}
	if cells, ok := candidateCells(center, meters); ok {
		for _, c := range cells {
			bm, ok := x.cells[c]
			if !ok {
				continue
			}
			it := bm.Iterator()
			for it.HasNext() {
				id := it.Next()
				check(id, x.points[id])
			}
		}
	} else {
		for id, p := range x.points {
			check(id, p)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist == hits[j].dist {
			return hits[i].id < hits[j].id
		}
		return hits[i].dist < hits[j].dist
	})
	ids := make([]uint64, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

func cellOf(p Point) string {
	return bgeo.EncodeGeoHash(p.Lat, p.Lon)[:cellPrecision]
}

const (
	maxLat = 85.05112878
	// geohash precision 5 cells span 0.0439 lat x 0.0439 lon degrees.
	cellStep = 0.0439 / 2
	// maxCellSamples caps the cell walk; larger boxes fall back to a full
	// point scan.
	maxCellSamples = 4096
)

// candidateCells returns the cells overlapping the bounding box of the
// search circle. The box is sampled at half-cell steps so no cell is missed,
// and longitudes wrap across the antimeridian. It reports false when the box
// needs more than maxCellSamples samples.
func candidateCells(center Point, meters float64) ([]string, bool) {
	const metersPerDegree = 111320.0
	dLat := meters / metersPerDegree
	if center.Lat+dLat >= maxLat || center.Lat-dLat <= -maxLat {
		return nil, false
	}
	// The box is widest in longitude at its most poleward latitude.
	edge := math.Max(math.Abs(center.Lat-dLat), math.Abs(center.Lat+dLat))
	dLon := meters / (metersPerDegree * math.Cos(edge*math.Pi/180))
	if dLon >= 180 {
		return nil, false
	}
	samples := (2*dLat/cellStep + 2) * (2*dLon/cellStep + 2)
	if samples > maxCellSamples {
		return nil, false
	}
	seen := make(map[string]struct{})
	var cells []string
	for lat := center.Lat - dLat; lat <= center.Lat+dLat+cellStep; lat += cellStep {
		clat := math.Max(-maxLat, math.Min(maxLat, lat))
		for lon := center.Lon - dLon; lon <= center.Lon+dLon+cellStep; lon += cellStep {
			c := cellOf(Point{Lon: wrapLon(lon), Lat: clat})
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			cells = append(cells, c)
		}
	}
	return cells, true
}

func wrapLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
