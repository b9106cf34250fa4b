// Package web serves the daemon's operations as a JSON HTTP API and pushes
// events to websocket subscribers.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/axondata/go-svcd"
)

// Server defaults
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	maxBodySize              = 4 << 20
)

// Server is the HTTP interface. It implements svcd.Interface so that it can
// be registered with Handler.AddInterface.
type Server struct {
	h    *svcd.Handler
	auth svcd.Authenticator
	log  zerolog.Logger
	mux  chi.Router

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// New builds the server for h. auth resolves basic auth credentials.
func New(h *svcd.Handler, auth svcd.Authenticator, log zerolog.Logger) *Server {
	s := &Server{
		h:    h,
		auth: auth,
		log:  log,
		subs: make(map[*subscriber]struct{}),
	}
	s.mux = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authenticate)

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Get("/services", s.handleServices)
		r.Route("/services/{service}", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/description", s.handleDescription)
			r.Get("/output", s.handleOutput)
			r.Get("/logs", s.handleLogs)
			r.Get("/config", s.handleReceiveConfig)
			r.Post("/config", s.handleSendConfig)
			r.Post("/start", s.handleControl(s.h.StartService))
			r.Post("/stop", s.handleControl(s.h.StopService))
			r.Post("/restart", s.handleControl(s.h.RestartService))
		})
		r.Post("/reload", s.handleReload)
		r.Post("/scan", s.handleScan)
		r.Post("/command", s.handleCommand)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// ServeHTTP makes the server usable as an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("listen", addr).Msg("web interface listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	s.closeSubscribers()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type clientKey struct{}

// authenticate resolves basic auth credentials into a ClientInfo. Requests
// without credentials run as the anonymous client.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := s.auth.Anonymous()
		if user, pw, ok := r.BasicAuth(); ok {
			c, err := s.auth.Authenticate(user, pw)
			if errors.Is(err, svcd.ErrUnauthorized) {
				w.Header().Set("WWW-Authenticate", `Basic realm="svcd"`)
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
				return
			}
			if err != nil {
				s.writeError(w, err)
				return
			}
			client = c
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, client)))
	})
}

func clientFrom(r *http.Request) svcd.ClientInfo {
	c, _ := r.Context().Value(clientKey{}).(svcd.ClientInfo)
	return c
}

func serviceID(r *http.Request) svcd.ServiceID {
	return svcd.ServiceID{Service: chi.URLParam(r, "service"), Instance: r.URL.Query().Get("instance")}
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	info := svcd.GetVersion()
	writeJSON(w, http.StatusOK, struct {
		svcd.VersionInfo
		UID string `json:"uid"`
	}{info, s.h.InstanceID().String()})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	writeEvent(w, s.h.RequestServiceList(r.Context(), clientFrom(r)))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := serviceID(r)
	sample, err := s.h.RequestServiceStatus(r.Context(), clientFrom(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeEvent(w, &svcd.StatusEvent{Service: id.Service, Instance: id.Instance, State: sample.State, ExtStatus: sample.ExtStatus})
}

func (s *Server) handleDescription(w http.ResponseWriter, r *http.Request) {
	id := serviceID(r)
	desc, err := s.h.RequestServiceDescription(r.Context(), clientFrom(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeEvent(w, &svcd.DescriptionEvent{Service: id.Service, Instance: id.Instance, Description: desc})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	id := serviceID(r)
	lines, err := s.h.RequestControlOutput(r.Context(), clientFrom(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeEvent(w, &svcd.ControlOutputEvent{Service: id.Service, Instance: id.Instance, Content: lines})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := serviceID(r)
	files, err := s.h.RequestLogfiles(r.Context(), clientFrom(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeEvent(w, &svcd.LogFilesEvent{Service: id.Service, Instance: id.Instance, Files: files})
}

func (s *Server) handleReceiveConfig(w http.ResponseWriter, r *http.Request) {
	id := serviceID(r)
	files, err := s.h.RequestConffiles(r.Context(), clientFrom(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeEvent(w, &svcd.ConfFilesEvent{Service: id.Service, Instance: id.Instance, Files: files})
}

type sendConfigBody struct {
	Filename string `json:"filename"`
	Contents string `json:"contents"`
}

func (s *Server) handleSendConfig(w http.ResponseWriter, r *http.Request) {
	var body sendConfigBody
	if err := readJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.h.SendConffile(r.Context(), clientFrom(r), serviceID(r), body.Filename, body.Contents); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleControl(op func(context.Context, svcd.ClientInfo, svcd.ServiceID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(r.Context(), clientFrom(r), serviceID(r)); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.h.TriggerReload(clientFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.h.ScanNetwork(r.Context(), clientFrom(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hosts == nil {
		hosts = []svcd.FoundHostEvent{}
	}
	writeJSON(w, http.StatusOK, hosts)
}

// handleCommand runs one JSON command envelope and answers with the reply
// event envelope, or 204 for commands without a reply
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	cmd, err := svcd.DecodeCommand(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	ev, err := s.h.Dispatch(r.Context(), clientFrom(r), cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ev == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	data, err := svcd.EncodeEvent(ev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusCode maps an operation error onto an HTTP status
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, svcd.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, svcd.ErrNoSuchService):
		return http.StatusNotFound
	}
	switch svcd.ErrorKind(err) {
	case svcd.KindBusy:
		return http.StatusConflict
	case svcd.KindFault:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	body := errorBody{Error: err.Error()}
	switch svcd.ErrorKind(err) {
	case svcd.KindFault:
		body.Kind = "fault"
	case svcd.KindBusy:
		body.Kind = "busy"
	default:
		body.Kind = "unexpected"
	}
	writeJSON(w, code, body)
}

func writeEvent(w http.ResponseWriter, ev svcd.Event) {
	writeJSON(w, http.StatusOK, ev)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
