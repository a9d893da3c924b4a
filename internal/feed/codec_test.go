package feed

import (
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"bustracker/internal/fleet"
)

func TestJSONRoundTripPrefersPayloadBusID(t *testing.T) {
	ts := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	b, err := EncodeJSON(fleet.LiveLocation{BusID: "payload-id", Latitude: 37.7, Longitude: -122.4, Timestamp: ts, Speed: 8.5, Heading: 90})
	require.NoError(t, err)

	loc, err := DecodeJSON("subject-id", b)
	require.NoError(t, err)
	assert.Equal(t, "payload-id", loc.BusID)
	assert.True(t, loc.Timestamp.Equal(ts))
	assert.Equal(t, 8.5, loc.Speed)

	loc, err = DecodeJSON("", b)
	require.NoError(t, err)
	assert.Equal(t, "payload-id", loc.BusID)

	loc, err = DecodeJSON("subject-id", []byte(`{"lat":1,"lon":2}`))
	require.NoError(t, err)
	assert.Equal(t, "subject-id", loc.BusID)
}

func TestDecodeJSONRejectsBadInput(t *testing.T) {
	_, err := DecodeJSON("b1", []byte("{"))
	assert.Error(t, err)

	_, err = DecodeJSON("", []byte(`{"lat":1,"lon":2}`))
	assert.ErrorIs(t, err, ErrMissingBusID)

	_, err = DecodeJSON("b1", []byte(`{"lat":91,"lon":2}`))
	assert.Error(t, err)
}

func TestDecodeGTFSRT(t *testing.T) {
	fm := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(1700000000),
		},
		Entity: []*gtfsrt.FeedEntity{
			{
				Id: proto.String("e1"),
				Vehicle: &gtfsrt.VehiclePosition{
					Vehicle:   &gtfsrt.VehicleDescriptor{Id: proto.String("bus-7")},
					Position:  &gtfsrt.Position{Latitude: proto.Float32(37.5), Longitude: proto.Float32(-122.25), Bearing: proto.Float32(180), Speed: proto.Float32(10)},
					Timestamp: proto.Uint64(1700000100),
				},
			},
			{
				// no timestamp on the vehicle: header timestamp is used
				Id: proto.String("e2"),
				Vehicle: &gtfsrt.VehiclePosition{
					Vehicle:  &gtfsrt.VehicleDescriptor{Id: proto.String("bus-8")},
					Position: &gtfsrt.Position{Latitude: proto.Float32(1), Longitude: proto.Float32(2)},
				},
			},
			{Id: proto.String("no-vehicle-id"), Vehicle: &gtfsrt.VehiclePosition{Position: &gtfsrt.Position{Latitude: proto.Float32(1), Longitude: proto.Float32(2)}}},
			{Id: proto.String("no-position"), Vehicle: &gtfsrt.VehiclePosition{Vehicle: &gtfsrt.VehicleDescriptor{Id: proto.String("bus-9")}}},
		},
	}
	b, err := proto.Marshal(fm)
	require.NoError(t, err)

	locs, err := DecodeGTFSRT(b)
	require.NoError(t, err)
	require.Len(t, locs, 2)

	assert.Equal(t, "bus-7", locs[0].BusID)
	assert.InDelta(t, 37.5, locs[0].Latitude, 1e-6)
	assert.Equal(t, 180.0, locs[0].Heading)
	assert.Equal(t, 10.0, locs[0].Speed)
	assert.Equal(t, int64(1700000100), locs[0].Timestamp.Unix())

	assert.Equal(t, "bus-8", locs[1].BusID)
	assert.Equal(t, int64(1700000000), locs[1].Timestamp.Unix())
}

func TestDecodeDispatch(t *testing.T) {
	locs, err := Decode(FormatJSON, "b1", []byte(`{"lat":1,"lon":2}`))
	require.NoError(t, err)
	require.Len(t, locs, 1)

	_, err = Decode("csv", "b1", nil)
	assert.Error(t, err)

	_, err = Decode(FormatGTFSRT, "", []byte("not protobuf \xff\xff"))
	assert.Error(t, err)
}
