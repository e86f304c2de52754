package tracker

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/OpenTransitTools/traintracker/business/engine"
	"github.com/OpenTransitTools/traintracker/business/schedule"
	"github.com/OpenTransitTools/traintracker/business/stationlink"
	"github.com/OpenTransitTools/traintracker/business/tripmatch"
	"github.com/OpenTransitTools/traintracker/foundation/database"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
)

//defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

//ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

// healthResponse is the body of /api/health
type healthResponse struct {
	Status       string              `json:"status"`
	Shape        engine.FeedShape    `json:"shape"`
	Stops        int                 `json:"stops"`
	Trips        int                 `json:"trips"`
	TrainNumbers int                 `json:"train_numbers"`
	Stations     stationlink.Summary `json:"stations"`
	CachedTrips  int                 `json:"cached_trips"`
	Vehicles     int                 `json:"vehicles"`
	SnapshotSeq  uint64              `json:"snapshot_seq"`
	LastUpdate   *int64              `json:"last_update"`
	Database     string              `json:"database,omitempty"`
}

// trackerHandler serves the state of the running tracker
type trackerHandler struct {
	log        *log.Logger
	shape      engine.FeedShape
	index      *schedule.Index
	stations   *stationlink.Reconciler
	correlator *tripmatch.Correlator
	store      *engine.SnapshotStore
	db         *sqlx.DB
}

func (t *trackerHandler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:       "ok",
		Shape:        t.shape,
		Stops:        len(t.index.Stops()),
		Trips:        len(t.index.Trips()),
		TrainNumbers: t.correlator.TrainNumberCount(),
		Stations:     t.stations.Summary(),
		CachedTrips:  t.correlator.CacheSize(),
	}
	if snapshot := t.store.Latest(); snapshot != nil {
		resp.Vehicles = len(snapshot.Vehicles)
		resp.SnapshotSeq = snapshot.Seq
		resp.LastUpdate = &snapshot.Timestamp
	}
	if t.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := database.StatusCheck(ctx, t.db); err != nil {
			t.log.Printf("health check database error:%v", err)
			resp.Status = "degraded"
			resp.Database = "unavailable"
		} else {
			resp.Database = "ok"
		}
	}
	t.writeJSON(w, http.StatusOK, resp)
}

func (t *trackerHandler) lastSnapshot(w http.ResponseWriter, _ *http.Request) {
	snapshot := t.store.Latest()
	if snapshot == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	t.writeJSON(w, http.StatusOK, snapshot)
}

func (t *trackerHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		t.log.Printf("Error marshaling response to json: error:%v\n", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(jsonData); err != nil {
		t.log.Printf("Error writing json response: %s", err)
	}
}

//createRouter registers the tracker's routes
func createRouter(handler *trackerHandler, metrics *metricsCollector) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{})
	r.HandleFunc("/api/health", handler.health).Methods(http.MethodGet)
	r.HandleFunc("/debug/last-snapshot", handler.lastSnapshot).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.handler())
	return r
}

//createServer creates configured http.Server
func createServer(handler *trackerHandler, metrics *metricsCollector, httpPort int) *http.Server {
	return &http.Server{
		Addr: strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      createRouter(handler, metrics),
	}
}

//runWebService starts the web service and terminates on shutdown signal
func runWebService(log *log.Logger,
	wg *sync.WaitGroup,
	srv *http.Server,
	shutdownSignal chan bool) {
	defer wg.Done()
	log.Printf("Starting server on %s", srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("server ListenAndServe ended. %s", err)
		}
	}()

	<-shutdownSignal
	log.Printf("ending webservice on shutdown signal")
	shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
	defer serverCancelFunc()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down webservice, error:%s", err)
	}
}
