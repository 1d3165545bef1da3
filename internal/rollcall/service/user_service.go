package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BrandonDHaskell/Rollcall/internal/metrics"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

// UserService adds and renames users.  A record is written to the store
// first and enters the directory only once the write succeeded.
type UserService struct {
	store    store.UserStore
	dir      *Directory
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewUserService(st store.UserStore, dir *Directory, logger *slog.Logger, m *metrics.Metrics) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		store:    st,
		dir:      dir,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer(tracerName),
	}
}

// WithTracer replaces the global tracer.
func (s *UserService) WithTracer(t trace.Tracer) *UserService {
	if t != nil {
		s.tracer = t
	}
	return s
}

// AddUser validates req, persists it and updates the directory.  Validation
// errors wrap ErrValidation; store errors wrap ErrStorage and leave the
// directory untouched.
func (s *UserService) AddUser(ctx context.Context, req types.AddUserRequest) (types.UserRecord, error) {
	// The name is stored exactly as submitted; only the uid is cleaned up.
	req.UID = strings.TrimSpace(req.UID)

	if err := s.validateRequest(req); err != nil {
		s.metrics.ObserveUpsert("invalid")
		return types.UserRecord{}, err
	}

	uid, err := normalizeUID(req.UID)
	if err != nil {
		s.metrics.ObserveUpsert("invalid")
		return types.UserRecord{}, err
	}
	rec := types.UserRecord{UID: uid, Name: req.Name}

	ctx, span := s.tracer.Start(ctx, "rollcall.upsert_user",
		trace.WithAttributes(attribute.String("uid", uid)))
	defer span.End()

	if err := s.store.Upsert(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		s.metrics.ObserveUpsert("error")
		s.logger.Error("user upsert failed", "uid", uid, "error", err)
		return types.UserRecord{}, fmt.Errorf("AddUser: %w: %w", ErrStorage, err)
	}

	s.dir.Put(rec)
	s.metrics.ObserveUpsert("ok")
	s.metrics.SetDirectorySize(s.dir.Len())
	s.logger.Info("user saved", "uid", uid, "name", rec.Name)
	return rec, nil
}

// Users returns the current directory contents sorted by uid.
func (s *UserService) Users() []types.UserRecord {
	return s.dir.Snapshot()
}

func (s *UserService) validateRequest(req types.AddUserRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	// Report the first missing field, uid before name.
	for _, fe := range verrs {
		if fe.Field() == "UID" {
			return ErrMissingUID
		}
	}
	for _, fe := range verrs {
		if fe.Field() == "Name" {
			return ErrMissingName
		}
	}
	return fmt.Errorf("%w: %s", ErrValidation, verrs[0].Error())
}
