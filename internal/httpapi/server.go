package httpapi

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/export"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/service"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
	"github.com/BrandonDHaskell/Rollcall/internal/runloop"
)

//go:embed web/index.html
var webFS embed.FS

type Dependencies struct {
	Logger     *slog.Logger
	Addr       string
	Users      *service.UserService
	Reconciler *service.Reconciler

	// Loop runs directory writes and manual check-ins on the scan goroutine.
	Loop runloop.Executor

	// Sessions serves /ws.
	Sessions http.Handler

	LedgerPath string
	DataDir    string // served read-only under /files/; "" disables

	Gatherer prometheus.Gatherer // nil disables /metrics
	Healthy  func() bool
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	users      *service.UserService
	reconciler *service.Reconciler
	loop       runloop.Executor
	ledgerPath string
	healthy    func() bool
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Loop == nil {
		d.Loop = runloop.Inline{}
	}

	s := &Server{
		logger:     d.Logger,
		users:      d.Users,
		reconciler: d.Reconciler,
		loop:       d.Loop,
		ledgerPath: d.LedgerPath,
		healthy:    d.Healthy,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Logger))

	r.Get("/", s.handleIndex)
	if d.Sessions != nil {
		r.Handle("/ws", d.Sessions)
	}
	r.Post("/adduser", s.handleAddUser)
	r.Post("/checkin", s.handleCheckin)
	r.Get("/users", s.handleListUsers)
	r.Get("/attendance.csv", s.handleLedgerCSV)
	r.Get("/attendance.xlsx", s.handleLedgerXLSX)
	r.Get("/healthz", s.handleHealthz)
	if d.DataDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(d.DataDir))))
	}
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(webFS, "web/index.html")
	if err != nil {
		writeText(w, http.StatusInternalServerError, "dashboard missing")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// handleAddUser answers in plain text for JSON callers and with a
// google.protobuf.Struct for protobuf callers.
func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	pb := isProtobuf(r)

	var req types.AddUserRequest
	if pb {
		var msg structpb.Struct
		if err := readProto(r, &msg); err != nil {
			writeProto(w, http.StatusBadRequest, protoResult(false, map[string]any{"error": "invalid protobuf"}))
			return
		}
		req.UID = structString(&msg, "uid")
		req.Name = structString(&msg, "name")
	} else {
		// Unknown keys are ignored.
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err := dec.Decode(&req); err != nil {
			writeText(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	var rec types.UserRecord
	err := s.loop.Do(r.Context(), func(ctx context.Context) error {
		var err error
		rec, err = s.users.AddUser(ctx, req)
		return err
	})

	status, msg := addUserStatus(err)
	if status != http.StatusOK && status != http.StatusBadRequest {
		s.logger.Error("adduser failed", "error", err)
	}
	if pb {
		if status == http.StatusOK {
			writeProto(w, status, protoResult(true, map[string]any{"uid": rec.UID, "name": rec.Name}))
			return
		}
		writeProto(w, status, protoResult(false, map[string]any{"error": msg}))
		return
	}
	writeText(w, status, msg)
}

func addUserStatus(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, "User saved"
	case errors.Is(err, service.ErrMissingUID), errors.Is(err, service.ErrMissingName):
		return http.StatusBadRequest, "Missing fields"
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "Invalid uid"
	case errors.Is(err, runloop.ErrStopped):
		return http.StatusServiceUnavailable, "Shutting down"
	default:
		return http.StatusInternalServerError, "Failed to save user"
	}
}

func (s *Server) handleCheckin(w http.ResponseWriter, r *http.Request) {
	var req types.CheckinRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	var res service.Result
	err := s.loop.Do(r.Context(), func(ctx context.Context) error {
		var err error
		res, err = s.reconciler.CheckIn(ctx, req)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			writeError(w, http.StatusBadRequest, "invalid_uid", err.Error())
		case errors.Is(err, runloop.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, "shutting_down", "run loop stopped")
		default:
			s.logger.Error("checkin failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	if !res.Logged {
		w.Header().Set("X-Rollcall-Ledger", "failed")
	}
	writeJSON(w, http.StatusOK, types.NewLiveEvent(res.Event))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.users.Users())
}

func (s *Server) handleLedgerCSV(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(s.ledgerPath)
	if err != nil {
		s.ledgerOpenError(w, err)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ledger_unavailable", "cannot stat ledger")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="attendance.csv"`)
	http.ServeContent(w, r, "attendance.csv", fi.ModTime(), f)
}

func (s *Server) handleLedgerXLSX(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(s.ledgerPath)
	if err != nil {
		s.ledgerOpenError(w, err)
		return
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, f); err != nil {
		s.logger.Error("xlsx export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "export_failed", "could not build workbook")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="attendance.xlsx"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) ledgerOpenError(w http.ResponseWriter, err error) {
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "no_ledger", "no attendance recorded yet")
		return
	}
	s.logger.Error("ledger open failed", "error", err)
	writeError(w, http.StatusInternalServerError, "ledger_unavailable", "cannot open ledger")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.healthy != nil && !s.healthy() {
		writeText(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	writeText(w, http.StatusOK, "ok")
}
