package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/OpenTransitTools/traintracker/business/engine"
	"github.com/OpenTransitTools/traintracker/business/stationlink"
	"github.com/OpenTransitTools/traintracker/foundation/httpclient"
)

// odptTrain is an odpt:Train record. Only the fields used for positioning are read
type odptTrain struct {
	SameAs      string   `json:"owl:sameAs"`
	Train       string   `json:"odpt:train"`
	FromStation *string  `json:"odpt:fromStation"`
	ToStation   *string  `json:"odpt:toStation"`
	Delay       *float64 `json:"odpt:delay"`
	TrainNumber string   `json:"odpt:trainNumber"`
	Railway     string   `json:"odpt:railway"`
}

// odptStation is an odpt:Station record
type odptStation struct {
	SameAs string   `json:"owl:sameAs"`
	Title  string   `json:"dc:title"`
	Lat    *float64 `json:"geo:lat"`
	Long   *float64 `json:"geo:long"`
}

// odptClient reads schedule relative train reports from an ODPT style api
type odptClient struct {
	log      *log.Logger
	client   *http.Client
	baseURL  string
	apiKey   string
	railways []string
}

func makeOdptClient(log *log.Logger, client *http.Client, baseURL string, apiKey string, railways []string) *odptClient {
	return &odptClient{
		log:      log,
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		railways: railways,
	}
}

func (c *odptClient) query(railway string) url.Values {
	q := url.Values{}
	if len(c.apiKey) > 0 {
		q.Set("acl:consumerKey", c.apiKey)
	}
	q.Set("odpt:railway", railway)
	return q
}

// Fetch retrieves trains on every configured railway. Fails if any railway fails so the caller can back off
func (c *odptClient) Fetch(ctx context.Context) ([]engine.Report, error) {
	var reports []engine.Report
	for _, railway := range c.railways {
		body, err := httpclient.Get(ctx, c.client, c.baseURL+"/odpt:Train", c.query(railway))
		if err != nil {
			return nil, fmt.Errorf("fetching trains for %s: %w", railway, err)
		}
		var trains []odptTrain
		if err = json.Unmarshal(body, &trains); err != nil {
			return nil, fmt.Errorf("parsing trains for %s: %w", railway, err)
		}
		for _, train := range trains {
			reports = append(reports, train.report())
		}
	}
	return reports, nil
}

// report converts the train into an engine.Report, preferring owl:sameAs as the trip id
func (t odptTrain) report() engine.Report {
	r := engine.Report{ForeignTripId: t.SameAs}
	if len(r.ForeignTripId) == 0 {
		r.ForeignTripId = t.Train
	}
	if t.FromStation != nil {
		r.FromStation = *t.FromStation
	}
	if t.ToStation != nil {
		r.ToStation = *t.ToStation
	}
	if t.Delay != nil {
		r.DelaySeconds = int(*t.Delay)
	}
	return r
}

// FetchStations retrieves stations of every configured railway. Stations without coordinates are kept so that
// overrides can still link them
func (c *odptClient) FetchStations(ctx context.Context) ([]stationlink.ForeignStation, error) {
	var stations []stationlink.ForeignStation
	seen := make(map[string]bool)
	for _, railway := range c.railways {
		body, err := httpclient.Get(ctx, c.client, c.baseURL+"/odpt:Station", c.query(railway))
		if err != nil {
			return nil, fmt.Errorf("fetching stations for %s: %w", railway, err)
		}
		var records []odptStation
		if err = json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("parsing stations for %s: %w", railway, err)
		}
		for _, record := range records {
			if len(record.SameAs) == 0 || seen[record.SameAs] {
				continue
			}
			seen[record.SameAs] = true
			stations = append(stations, stationlink.ForeignStation{
				Id:   record.SameAs,
				Name: record.Title,
				Lat:  record.Lat,
				Lon:  record.Long,
			})
		}
		c.log.Printf("loaded %d stations for %s", len(records), railway)
	}
	return stations, nil
}
