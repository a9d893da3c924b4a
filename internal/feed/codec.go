package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"bustracker/internal/fleet"
)

const (
	FormatJSON   = "json"
	FormatGTFSRT = "gtfsrt"
)

var ErrMissingBusID = errors.New("feed: location without bus id")

// locationMessage is the JSON wire form published by bus devices.
type locationMessage struct {
	BusID     string    `json:"busId,omitempty"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
}

func EncodeJSON(loc fleet.LiveLocation) ([]byte, error) {
	return json.Marshal(locationMessage{
		BusID:     loc.BusID,
		Lat:       loc.Latitude,
		Lon:       loc.Longitude,
		Timestamp: loc.Timestamp,
		Speed:     loc.Speed,
		Heading:   loc.Heading,
	})
}

// DecodeJSON decodes one location. The payload's busId wins; busID (the
// subject token or message key) is only used when the payload has none,
// since subject tokens are escaped.
func DecodeJSON(busID string, payload []byte) (fleet.LiveLocation, error) {
	var m locationMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return fleet.LiveLocation{}, fmt.Errorf("decode location: %w", err)
	}
	if m.BusID != "" {
		busID = m.BusID
	}
	loc := fleet.LiveLocation{
		BusID:     busID,
		Latitude:  m.Lat,
		Longitude: m.Lon,
		Timestamp: m.Timestamp,
		Speed:     m.Speed,
		Heading:   m.Heading,
	}
	return loc, validate(loc)
}

// DecodeGTFSRT extracts vehicle positions from a GTFS-realtime FeedMessage.
// The vehicle descriptor id is the bus id; entities without one are skipped.
func DecodeGTFSRT(payload []byte) ([]fleet.LiveLocation, error) {
	var fm gtfsrt.FeedMessage
	if err := proto.Unmarshal(payload, &fm); err != nil {
		return nil, fmt.Errorf("decode gtfs-rt: %w", err)
	}
	headerTS := fm.GetHeader().GetTimestamp()

	var out []fleet.LiveLocation
	for _, e := range fm.GetEntity() {
		vp := e.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		busID := vp.GetVehicle().GetId()
		if busID == "" {
			continue
		}
		ts := vp.GetTimestamp()
		if ts == 0 {
			ts = headerTS
		}
		pos := vp.GetPosition()
		loc := fleet.LiveLocation{
			BusID:     busID,
			Latitude:  float64(pos.GetLatitude()),
			Longitude: float64(pos.GetLongitude()),
			Timestamp: time.Unix(int64(ts), 0).UTC(),
			Speed:     float64(pos.GetSpeed()),
			Heading:   float64(pos.GetBearing()),
		}
		if err := validate(loc); err != nil {
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}

// Decode dispatches on format; JSON payloads carry a single location.
func Decode(format, busID string, payload []byte) ([]fleet.LiveLocation, error) {
	switch format {
	case FormatGTFSRT:
		return DecodeGTFSRT(payload)
	case FormatJSON, "":
		loc, err := DecodeJSON(busID, payload)
		if err != nil {
			return nil, err
		}
		return []fleet.LiveLocation{loc}, nil
	default:
		return nil, fmt.Errorf("feed: unknown format %q", format)
	}
}

func validate(loc fleet.LiveLocation) error {
	if loc.BusID == "" {
		return ErrMissingBusID
	}
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		return fmt.Errorf("feed: bus %s: coordinates out of range (%f, %f)", loc.BusID, loc.Latitude, loc.Longitude)
	}
	return nil
}
