package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"i4.energy/across/sim800gw/modem"
)

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *zap.Logger
	Modem  *modem.Modem
	// Outbox queues POST /sms requests. When nil messages are sent
	// synchronously.
	Outbox *Outbox
	// Token, when set, must be presented as a bearer token.
	Token string
	// MissCallAttempts is used when a request does not name a count.
	MissCallAttempts int

	once    sync.Once
	handler http.Handler
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /sms", s.handleSMS)
		mux.HandleFunc("GET /sms/{index}", s.handleReadSMS)
		mux.HandleFunc("DELETE /sms/{index}", s.handleDeleteSMS)
		mux.HandleFunc("GET /outbox/{id}", s.handleOutbox)
		mux.HandleFunc("POST /call/miss", s.handleMissCall)
		mux.HandleFunc("POST /ussd", s.handleUSSD)
		mux.HandleFunc("GET /status", s.handleStatus)
		s.handler = s.logRequests(s.authorize(mux))
	})
	s.handler.ServeHTTP(w, r)
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.Logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
				s.sendError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("encode response", zap.Error(err))
	}
}

// errorStatus maps modem errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, modem.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, modem.ErrNoSMS):
		return http.StatusNotFound
	case errors.Is(err, modem.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, modem.ErrCommandFailed), errors.Is(err, modem.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, modem.ErrAlreadyClosed), errors.Is(err, ErrOutboxFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleSMS processes incoming HTTP POST requests to send SMS messages
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := req.validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	type SMSResponse struct {
		Status string `json:"status"`
		ID     string `json:"id,omitempty"`
	}

	if s.Outbox != nil {
		job, err := s.Outbox.Enqueue(req.ID, req.To, req.Message)
		if err != nil {
			s.Logger.Error("Failed to queue SMS", zap.Error(err), zap.String("to", req.To))
			s.sendError(w, err.Error(), errorStatus(err))
			return
		}
		s.sendJSON(w, SMSResponse{Status: string(job.State), ID: job.ID}, http.StatusAccepted)
		return
	}

	if err := s.Modem.SendSMS(r.Context(), req.To, req.Message); err != nil {
		s.Logger.Error("Failed to send SMS", zap.Error(err), zap.String("to", req.To))
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	s.Logger.Info("SMS sent successfully", zap.String("to", req.To), zap.Int("message_length", len(req.Message)))
	s.sendJSON(w, SMSResponse{Status: string(JobSent)}, http.StatusOK)
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	if s.Outbox == nil {
		s.sendError(w, "outbox disabled", http.StatusNotFound)
		return
	}

	job, ok := s.Outbox.Status(r.PathValue("id"))
	if !ok {
		s.sendError(w, "unknown job", http.StatusNotFound)
		return
	}
	s.sendJSON(w, job, http.StatusOK)
}

// smsResponse is the JSON form of a stored message.
type smsResponse struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Sender string `json:"sender"`
	Time   string `json:"time"`
	Text   string `json:"text"`
}

func newSMSResponse(sms modem.SMS) smsResponse {
	return smsResponse{
		Index:  sms.Index,
		Status: sms.Status,
		Sender: sms.Sender,
		Time:   sms.Time,
		Text:   sms.Text,
	}
}

func (s *Server) smsIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index <= 0 {
		s.sendError(w, "index must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return index, true
}

func (s *Server) handleReadSMS(w http.ResponseWriter, r *http.Request) {
	index, ok := s.smsIndex(w, r)
	if !ok {
		return
	}

	sms, err := s.Modem.ReadSMS(r.Context(), index)
	if err != nil {
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}
	s.sendJSON(w, newSMSResponse(sms), http.StatusOK)
}

func (s *Server) handleDeleteSMS(w http.ResponseWriter, r *http.Request) {
	index, ok := s.smsIndex(w, r)
	if !ok {
		return
	}

	if err := s.Modem.DeleteSMS(r.Context(), index); err != nil {
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMissCall(w http.ResponseWriter, r *http.Request) {
	type MissCallRequest struct {
		Number   string `json:"number"`
		Attempts int    `json:"attempts"`
	}

	var req MissCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Attempts == 0 {
		req.Attempts = s.MissCallAttempts
	}

	report, err := s.Modem.MissCall(r.Context(), req.Number, req.Attempts)
	if err != nil {
		s.Logger.Error("Miss call failed", zap.Error(err), zap.String("number", req.Number))
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	type MissCallResponse struct {
		Result    string `json:"result"`
		Succeeded bool   `json:"succeeded"`
		Attempts  int    `json:"attempts"`
		Last      string `json:"last"`
	}
	s.sendJSON(w, MissCallResponse{
		Result:    report.Result.String(),
		Succeeded: report.Succeeded(),
		Attempts:  report.Attempts,
		Last:      report.Last.String(),
	}, http.StatusOK)
}

func (s *Server) handleUSSD(w http.ResponseWriter, r *http.Request) {
	type USSDRequest struct {
		Code string `json:"code"`
		// Timeout in seconds, the modem default when zero
		Timeout int `json:"timeout"`
	}

	var req USSDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		s.sendError(w, "'code' is required", http.StatusBadRequest)
		return
	}

	payload, err := s.Modem.SendUSSD(r.Context(), req.Code, time.Duration(req.Timeout)*time.Second)
	if err != nil {
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	type USSDResponse struct {
		Payload string `json:"payload"`
	}
	s.sendJSON(w, USSDResponse{Payload: payload}, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type Signal struct {
		RSSI int `json:"rssi"`
		BER  int `json:"ber"`
		DBm  int `json:"dbm"`
	}
	type StatusResponse struct {
		Registration     string `json:"registration"`
		RegistrationCode int    `json:"registration_code"`
		Signal           Signal `json:"signal"`
		Call             string `json:"call"`
	}

	ctx := r.Context()

	reg, err := s.Modem.Registration(ctx)
	if err != nil {
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}
	quality, err := s.Modem.SignalQuality(ctx)
	if err != nil {
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}
	call, err := s.Modem.CallStatus(ctx)
	if err != nil {
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	s.sendJSON(w, StatusResponse{
		Registration:     reg.String(),
		RegistrationCode: reg.Code(),
		Signal:           Signal{RSSI: quality.RSSI, BER: quality.BER, DBm: quality.DBm()},
		Call:             call.String(),
	}, http.StatusOK)
}
