package cartera

import (
	"net/http"

	"github.com/gorilla/mux"

	"CarteraDash/internal/metrics"
)

func NewRouter(d *Dashboard) *mux.Router {
	router := mux.NewRouter()
	router.Use(accessLog)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	// dashboards
	router.HandleFunc("/", IndexHandler(d)).Methods(http.MethodGet)
	router.HandleFunc("/gestion", GestionHandler(d)).Methods(http.MethodGet)

	// uploads and manual runs
	router.HandleFunc("/upload", UploadPageHandler(d)).Methods(http.MethodGet)
	router.HandleFunc("/upload", UploadHandler(d)).Methods(http.MethodPost)
	router.HandleFunc("/ejecutar-maestro", RunMaestroHandler(d)).Methods(http.MethodPost)
	router.HandleFunc("/ejecutar-pagos", RunPagosHandler(d)).Methods(http.MethodPost)
	router.HandleFunc("/ejecutar-script", RunScriptHandler(d)).Methods(http.MethodPost)

	// JSON
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/portafolio", PortafolioAPIHandler(d)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/presupuesto", PresupuestoAPIHandler(d)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/gestion", GestionAPIHandler(d)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/runs", RunsAPIHandler(d)).Methods(http.MethodGet)
	apiRouter.HandleFunc("/resumen", ResumenAPIHandler(d)).Methods(http.MethodGet)

	router.HandleFunc("/events", d.Events.HandleSSE).Methods(http.MethodGet)
	router.HandleFunc("/healthz", HealthHandler(d)).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return router
}
