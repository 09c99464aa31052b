package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/invoice"
	"github.com/septivank/water-billing/internal/metrics"
	"github.com/septivank/water-billing/internal/offline"
	"github.com/septivank/water-billing/internal/sample"
	"github.com/septivank/water-billing/internal/service"
	"github.com/septivank/water-billing/internal/validator"
	"go.uber.org/zap"
)

// Billing is the set of billing operations the API exposes
type Billing interface {
	ListHouses(ctx context.Context) ([]db.House, bool, error)
	SearchHouses(ctx context.Context, query string) ([]db.House, bool, error)
	GetHouse(ctx context.Context, id uuid.UUID) (*db.House, error)
	CreateHouse(ctx context.Context, in validator.HouseInput) (*db.House, service.Outcome, error)
	UpdateHouse(ctx context.Context, id uuid.UUID, in validator.HouseInput) (*db.House, service.Outcome, error)
	DeleteHouse(ctx context.Context, id uuid.UUID) (service.Outcome, error)
	GetReading(ctx context.Context, id uuid.UUID) (*db.MeterReading, error)
	RecordReading(ctx context.Context, houseID uuid.UUID, in validator.ReadingInput) (*service.RecordResult, error)
	UpdateReading(ctx context.Context, id uuid.UUID, change service.ReadingChange) (*db.MeterReading, service.Outcome, error)
	DeleteReading(ctx context.Context, id uuid.UUID) (service.Outcome, error)
	ActiveRate(ctx context.Context) (db.WaterUnitRate, error)
	RateHistory(ctx context.Context) ([]db.WaterUnitRate, error)
	SetRate(ctx context.Context, ratePerUnit float64) (*db.WaterUnitRate, service.Outcome, error)
	ImportSamples(ctx context.Context, houses []sample.House, source sample.Source) (service.ImportReport, error)
}

// OfflineQueue is the read and repair surface of the offline queue
type OfflineQueue interface {
	ListUnsynced(ctx context.Context) ([]offline.Entry, error)
	ListDead(ctx context.Context) ([]offline.Entry, error)
	Requeue(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) (offline.Stats, error)
}

// Flusher replays the offline queue on demand
type Flusher interface {
	Flush(ctx context.Context) (offline.FlushReport, error)
}

// SampleSource produces sample houses for seeding
type SampleSource interface {
	Generate(ctx context.Context) ([]sample.House, sample.Source)
}

// HealthFunc reports whether a dependency is reachable
type HealthFunc func() bool

// Dependencies wires the server to the rest of the application
type Dependencies struct {
	Billing        Billing
	Queue          OfflineQueue
	Flusher        Flusher
	Invoices       *invoice.Renderer
	Samples        SampleSource
	DatabaseOnline HealthFunc
	BrokerHealthy  HealthFunc
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	MaxBodyBytes   int64
	Logger         *zap.Logger
}

const defaultMaxBodyBytes = 4 << 20

// BodyLimit sizes the request body limit for a decoded image limit: base64
// grows the image by a third, plus room for the data URL prefix and fields.
func BodyLimit(maxImageBytes int) int64 {
	return int64(maxImageBytes)/3*4 + 4 + 64<<10
}

// Server serves the billing HTTP API
type Server struct {
	billing        Billing
	queue          OfflineQueue
	flusher        Flusher
	invoices       *invoice.Renderer
	samples        SampleSource
	databaseOnline HealthFunc
	brokerHealthy  HealthFunc
	metrics        *metrics.Metrics
	allowedOrigins []string
	maxBodyBytes   int64
	logger         *zap.Logger
}

// NewServer creates the API server
func NewServer(deps Dependencies) *Server {
	s := &Server{
		billing:        deps.Billing,
		queue:          deps.Queue,
		flusher:        deps.Flusher,
		invoices:       deps.Invoices,
		samples:        deps.Samples,
		databaseOnline: deps.DatabaseOnline,
		brokerHealthy:  deps.BrokerHealthy,
		metrics:        deps.Metrics,
		allowedOrigins: deps.AllowedOrigins,
		maxBodyBytes:   deps.MaxBodyBytes,
		logger:         deps.Logger,
	}
	if s.databaseOnline == nil {
		s.databaseOnline = func() bool { return true }
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = defaultMaxBodyBytes
	}
	if len(s.allowedOrigins) == 0 {
		s.allowedOrigins = []string{"*"}
	}
	return s
}

// Router defines all API routes
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.requestContext, s.observe)

	router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	s.setupHouseRoutes(router)
	s.setupReadingRoutes(router)
	s.setupRateRoutes(router)
	s.setupOfflineRoutes(router)
	router.HandleFunc("/samples", s.importSamples).Methods(http.MethodPost)

	return router
}

// Handler returns the router behind CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, staleHeader},
	})
	return c.Handler(s.Router())
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Broker   string `json:"broker"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "online", Broker: "disabled"}
	if !s.databaseOnline() {
		resp.Status = "degraded"
		resp.Database = "offline"
	}
	if s.brokerHealthy != nil {
		resp.Broker = "online"
		if !s.brokerHealthy() {
			resp.Status = "degraded"
			resp.Broker = "offline"
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// pathID parses the named uuid path variable
func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, NewAPIError(ErrCodeBadRequest, "invalid "+name, http.StatusBadRequest)
	}
	return id, nil
}
