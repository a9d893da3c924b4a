package replay

import (
	"errors"
	"fmt"
	"time"

	"github.com/jamespfennell/gtfs"
	"github.com/twpayne/go-polyline"
	"gopkg.in/yaml.v3"

	"bustracker/internal/geo"
)

const defaultLap = 10 * time.Minute

// Track is the path one bus drives, once or in a loop.
type Track struct {
	BusID  string
	Points []geo.Point
	Lap    time.Duration
	Loop   bool
}

// trackEntry is one entry of the tracks file. The first of Polyline,
// ShapeID and Points that is set gives the geometry.
type trackEntry struct {
	BusID      string      `yaml:"busId"`
	Polyline   string      `yaml:"polyline"`
	ShapeID    string      `yaml:"shapeId"`
	Points     [][]float64 `yaml:"points"`
	LapSeconds int         `yaml:"lapSeconds"`
	Loop       bool        `yaml:"loop"`
}

type tracksFile struct {
	Tracks []trackEntry `yaml:"tracks"`
}

// ParseTracks reads a YAML tracks file. Tracks referring to a shapeId take
// their geometry from the static GTFS archive in gtfsZip.
func ParseTracks(data []byte, gtfsZip []byte) ([]Track, error) {
	var f tracksFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tracks: %w", err)
	}
	if len(f.Tracks) == 0 {
		return nil, errors.New("tracks file has no tracks")
	}

	var shapes map[string][]geo.Point
	out := make([]Track, 0, len(f.Tracks))
	for i, s := range f.Tracks {
		if s.BusID == "" {
			return nil, fmt.Errorf("track %d: busId is required", i)
		}
		var pts []geo.Point
		switch {
		case s.Polyline != "":
			coords, _, err := polyline.DecodeCoords([]byte(s.Polyline))
			if err != nil {
				return nil, fmt.Errorf("track %s: decode polyline: %w", s.BusID, err)
			}
			for _, c := range coords {
				pts = append(pts, geo.Point{Lat: c[0], Lon: c[1]})
			}
		case s.ShapeID != "":
			if shapes == nil {
				var err error
				if shapes, err = staticShapes(gtfsZip); err != nil {
					return nil, fmt.Errorf("track %s: %w", s.BusID, err)
				}
			}
			var ok bool
			if pts, ok = shapes[s.ShapeID]; !ok {
				return nil, fmt.Errorf("track %s: unknown shape %q", s.BusID, s.ShapeID)
			}
		default:
			for _, p := range s.Points {
				if len(p) != 2 {
					return nil, fmt.Errorf("track %s: point %v is not [lat, lon]", s.BusID, p)
				}
				pts = append(pts, geo.Point{Lat: p[0], Lon: p[1]})
			}
		}
		if len(pts) < 2 {
			return nil, fmt.Errorf("track %s: need at least 2 points, got %d", s.BusID, len(pts))
		}

		lap := time.Duration(s.LapSeconds) * time.Second
		if lap <= 0 {
			lap = defaultLap
		}
		out = append(out, Track{BusID: s.BusID, Points: pts, Lap: lap, Loop: s.Loop})
	}
	return out, nil
}

func staticShapes(zip []byte) (map[string][]geo.Point, error) {
	if len(zip) == 0 {
		return nil, errors.New("shapeId used but no GTFS archive configured")
	}
	static, err := gtfs.ParseStatic(zip, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("parse GTFS archive: %w", err)
	}
	shapes := make(map[string][]geo.Point, len(static.Shapes))
	for _, sh := range static.Shapes {
		pts := make([]geo.Point, 0, len(sh.Points))
		for _, p := range sh.Points {
			pts = append(pts, geo.Point{Lat: p.Latitude, Lon: p.Longitude})
		}
		shapes[sh.ID] = pts
	}
	return shapes, nil
}
