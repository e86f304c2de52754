package tracker

import (
	"context"
	"fmt"
	"log"
	"net/http"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/OpenTransitTools/traintracker/business/engine"
	"github.com/OpenTransitTools/traintracker/foundation/httpclient"
	"google.golang.org/protobuf/proto"
)

// gtfsrtClient reads absolute timestamp vehicle reports from a GTFS-realtime VehiclePositions feed,
// either a url or a local file
type gtfsrtClient struct {
	log    *log.Logger
	client *http.Client
	source string
}

func makeGtfsrtClient(log *log.Logger, client *http.Client, source string) *gtfsrtClient {
	return &gtfsrtClient{log: log, client: client, source: source}
}

// Fetch retrieves and decodes the feed
func (c *gtfsrtClient) Fetch(ctx context.Context) ([]engine.Report, error) {
	data, err := httpclient.ReadSource(ctx, c.client, c.source)
	if err != nil {
		return nil, fmt.Errorf("reading gtfs-rt feed %s: %w", c.source, err)
	}
	reports, skipped, err := decodeVehiclePositions(data)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		c.log.Printf("skipped %d vehicle entities without a trip id", skipped)
	}
	return reports, nil
}

// decodeVehiclePositions extracts a Report for each vehicle entity carrying a trip id.
// Returns the number of vehicle entities skipped for lacking one
func decodeVehiclePositions(data []byte) ([]engine.Report, int, error) {
	feedMessage := gtfsrtpb.FeedMessage{}
	if err := proto.Unmarshal(data, &feedMessage); err != nil {
		return nil, 0, fmt.Errorf("unable to unmarshal FeedMessage: %w", err)
	}
	var reports []engine.Report
	skipped := 0
	for _, entity := range feedMessage.GetEntity() {
		vehicle := entity.GetVehicle()
		if vehicle == nil {
			continue
		}
		tripId := vehicle.GetTrip().GetTripId()
		if len(tripId) == 0 {
			skipped++
			continue
		}
		reports = append(reports, engine.Report{
			ForeignTripId:  tripId,
			TimestampEpoch: int64(vehicle.GetTimestamp()),
		})
	}
	return reports, skipped, nil
}
