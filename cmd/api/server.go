package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"shipflow/apperr"
	"shipflow/auth"
	"shipflow/catalog"
	"shipflow/quote"
	"shipflow/shipment"
	"shipflow/tracking"
)

type ctxKey int

const ctxKeyUserID ctxKey = iota

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Principal, error)
}

type quoteService interface {
	Quote(ctx context.Context, req quote.Request) (quote.Result, error)
}

type shipmentService interface {
	Create(ctx context.Context, userID string, params shipment.CreateParams) (shipment.Shipment, error)
	ListByUser(ctx context.Context, userID string) ([]shipment.Shipment, error)
	Track(ctx context.Context, shipmentID, userID string) (shipment.TrackingDetails, error)
	UpdateStatus(ctx context.Context, shipmentID string, statusID int64) error
}

type catalogService interface {
	Cities(ctx context.Context) ([]catalog.City, error)
	Statuses(ctx context.Context) ([]catalog.Status, error)
}

// Server carries the wired services and owns the HTTP/WebSocket surface.
type Server struct {
	authService     authService
	quoteService    quoteService
	shipmentService shipmentService
	catalogService  catalogService
	gate            *tracking.Gate
	log             *slog.Logger
	upgrader        websocket.Upgrader
}

// NewServer wires the handlers. logger may be nil.
func NewServer(
	authSvc authService,
	quoteSvc quoteService,
	shipmentSvc shipmentService,
	catalogSvc catalogService,
	gate *tracking.Gate,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		authService:     authSvc,
		quoteService:    quoteSvc,
		shipmentService: shipmentSvc,
		catalogService:  catalogSvc,
		gate:            gate,
		log:             logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes builds the request mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/quotes", s.handleQuote)
	mux.HandleFunc("GET /api/cities", s.handleCities)
	mux.HandleFunc("GET /api/statuses", s.handleStatuses)

	mux.HandleFunc("POST /api/shipments", s.requireAuth(s.handleCreateShipment))
	mux.HandleFunc("GET /api/shipments", s.requireAuth(s.handleListShipments))
	mux.HandleFunc("GET /api/shipments/{id}", s.requireAuth(s.handleTrackShipment))
	mux.HandleFunc("PATCH /api/shipments/{id}/status", s.requireAuth(s.handleUpdateStatus))
	mux.HandleFunc("GET /api/shipments/{id}/track", s.handleTrackSocket)

	return mux
}

// requireAuth verifies the bearer token and stashes the principal's user id
// in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := s.authService.VerifyToken(bearerToken(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody("UNAUTHORIZED", "missing or invalid token"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKeyUserID, principal.UserID)))
	}
}

func requestUserID(r *http.Request) string {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	return userID
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	// Browsers cannot set headers on a WebSocket upgrade.
	return r.URL.Query().Get("token")
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("BAD_REQUEST", "invalid JSON body"))
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			writeJSON(w, http.StatusConflict, errorBody("DUPLICATE_EMAIL", err.Error()))
		case errors.Is(err, auth.ErrWeakPassword):
			writeJSON(w, http.StatusBadRequest, errorBody("WEAK_PASSWORD", err.Error()))
		default:
			s.writeError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("BAD_REQUEST", "invalid JSON body"))
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, errorBody("INVALID_CREDENTIALS", "wrong email or password"))
			return
		}
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User: userResponse{
			ID:       result.User.ID,
			Email:    result.User.Email,
			FullName: result.User.FullName,
		},
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quote.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("BAD_REQUEST", "invalid JSON body"))
		return
	}

	result, err := s.quoteService.Quote(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	cities, err := s.catalogService.Cities(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]cityResponse, 0, len(cities))
	for _, c := range cities {
		items = append(items, cityResponse{ID: c.ID, Name: c.Name, State: c.State, ZoneID: c.ZoneID})
	}
	writeJSON(w, http.StatusOK, listBody{Items: items, Total: len(items)})
}

func (s *Server) handleStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.catalogService.Statuses(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]statusResponse, 0, len(statuses))
	for _, st := range statuses {
		items = append(items, statusResponse{ID: st.ID, Name: st.Name, Description: st.Description})
	}
	writeJSON(w, http.StatusOK, listBody{Items: items, Total: len(items)})
}

func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var params shipment.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("BAD_REQUEST", "invalid JSON body"))
		return
	}

	created, err := s.shipmentService.Create(r.Context(), requestUserID(r), params)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toShipmentResponse(created))
}

func (s *Server) handleListShipments(w http.ResponseWriter, r *http.Request) {
	shipments, err := s.shipmentService.ListByUser(r.Context(), requestUserID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]shipmentResponse, 0, len(shipments))
	for _, sh := range shipments {
		items = append(items, toShipmentResponse(sh))
	}
	writeJSON(w, http.StatusOK, listBody{Items: items, Total: len(items)})
}

func (s *Server) handleTrackShipment(w http.ResponseWriter, r *http.Request) {
	details, err := s.shipmentService.Track(r.Context(), r.PathValue("id"), requestUserID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}

	history := make([]historyResponse, 0, len(details.History))
	for _, h := range details.History {
		history = append(history, historyResponse{
			StatusID:   h.StatusID,
			StatusName: h.StatusName,
			Timestamp:  h.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, trackingResponse{
		Shipment: toShipmentResponse(details.Shipment),
		History:  history,
	})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StatusID int64 `json:"statusId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("BAD_REQUEST", "invalid JSON body"))
		return
	}

	if err := s.shipmentService.UpdateStatus(r.Context(), r.PathValue("id"), body.StatusID); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeError maps the closed error taxonomy to transport responses. The
// switch is exhaustive over apperr.Kind.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		writeJSON(w, http.StatusNotFound, errorBody(code, err.Error()))
	case apperr.KindInvalidState:
		writeJSON(w, http.StatusBadRequest, errorBody(code, err.Error()))
	case apperr.KindAuthorization:
		writeJSON(w, http.StatusForbidden, errorBody(code, err.Error()))
	case apperr.KindInfrastructure:
		s.log.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody(apperr.CodeInfrastructure, "internal error"))
	}
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type cityResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	ZoneID int64  `json:"zoneId"`
}

type statusResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type shipmentResponse struct {
	ID                 string  `json:"id"`
	TrackingCode       string  `json:"trackingCode"`
	OriginCityID       int64   `json:"originCityId"`
	DestinationCityID  int64   `json:"destinationCityId"`
	PackageWeightKg    float64 `json:"packageWeightKg"`
	PackageLengthCm    float64 `json:"packageLengthCm"`
	PackageWidthCm     float64 `json:"packageWidthCm"`
	PackageHeightCm    float64 `json:"packageHeightCm"`
	CalculatedWeightKg float64 `json:"calculatedWeightKg"`
	QuotedValue        int64   `json:"quotedValue"`
	CurrentStatusID    int64   `json:"currentStatusId"`
	CreatedAt          string  `json:"createdAt"`
}

type historyResponse struct {
	StatusID   int64  `json:"statusId"`
	StatusName string `json:"statusName"`
	Timestamp  string `json:"timestamp"`
}

type trackingResponse struct {
	Shipment shipmentResponse  `json:"shipment"`
	History  []historyResponse `json:"history"`
}

type listBody struct {
	Items any `json:"items"`
	Total int `json:"total"`
}

func toShipmentResponse(sh shipment.Shipment) shipmentResponse {
	return shipmentResponse{
		ID:                 sh.ID,
		TrackingCode:       sh.TrackingCode,
		OriginCityID:       sh.OriginCityID,
		DestinationCityID:  sh.DestinationCityID,
		PackageWeightKg:    sh.PackageWeightKg,
		PackageLengthCm:    sh.PackageLengthCm,
		PackageWidthCm:     sh.PackageWidthCm,
		PackageHeightCm:    sh.PackageHeightCm,
		CalculatedWeightKg: sh.CalculatedWeightKg,
		QuotedValue:        sh.QuotedValue,
		CurrentStatusID:    sh.CurrentStatusID,
		CreatedAt:          sh.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func errorBody(code, message string) map[string]string {
	return map[string]string{"code": code, "message": message}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
