// Package engine is the workflow orchestrator. It sequences
// validation submissions through the stage machine, captures
// snapshots at the completion checkpoint, freezes change-request
// impact, and links assessment phases. Every mutation runs in one
// datastore transaction with an audit event appended inside it.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gateline/internal/config"
	"gateline/internal/domain"
	"gateline/internal/events"
	"gateline/internal/repo"
	"gateline/internal/stage"
)

// ErrPrecondition marks requests that would fail identically on
// retry: wrong stage, missing baseline, self-link, duplicate link.
var ErrPrecondition = errors.New("precondition failed")

// ErrIntegrity marks fatal data problems: a fingerprint mismatch or
// an unlocked-entity reference that does not resolve. Never coerced
// to success.
var ErrIntegrity = errors.New("integrity violation")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

// withConflictRetry re-runs fn on transient serialization conflicts,
// bounded by the configured retry count. Precondition and integrity
// errors pass through untouched.
func (e Engine) withConflictRetry(fn func() error) error {
	retries := 3
	if e.Config != nil {
		retries = e.Config.Signoff.ConflictRetries
	}
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, repo.ErrConflict) || attempt >= retries {
			return err
		}
	}
}

func (e Engine) escalationThreshold() int {
	if e.Config != nil {
		return e.Config.Impact.EscalationThreshold
	}
	return config.Default("").Impact.EscalationThreshold
}

func (e Engine) materialChangePoints() float64 {
	if e.Config != nil {
		return e.Config.Insights.MaterialChangePoints
	}
	return config.Default("").Insights.MaterialChangePoints
}

// CreateClient registers a client and seeds its default config.
// Idempotent on the client row itself.
func (e Engine) CreateClient(ctx context.Context, id, name, actorID string) (domain.Client, error) {
	if id == "" {
		return domain.Client{}, fmt.Errorf("%w: client id is required", ErrPrecondition)
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Client{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureClient(ctx, tx, id, name, now); err != nil {
		return domain.Client{}, fmt.Errorf("ensure client: %w", err)
	}
	if err := e.Repo.UpsertClientConfigTx(ctx, tx, id, config.Default(id)); err != nil {
		return domain.Client{}, fmt.Errorf("seed client config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "client.created", "", "client", id, actorID, events.EventPayload{"name": name}); err != nil {
		return domain.Client{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Client{}, err
	}
	return domain.Client{ID: id, Name: name, CreatedAt: now}, nil
}

// AssessmentCreateOptions are parameters for creating an assessment.
type AssessmentCreateOptions struct {
	ID          string
	ClientID    string
	Name        string
	Phase       int
	Description string
	ActorID     string
}

// CreateAssessment creates an assessment together with its 1:1
// sign-off process, starting at not_started.
func (e Engine) CreateAssessment(ctx context.Context, opts AssessmentCreateOptions) (domain.Assessment, error) {
	if opts.Name == "" {
		return domain.Assessment{}, fmt.Errorf("%w: name is required", ErrPrecondition)
	}
	if opts.ClientID == "" {
		return domain.Assessment{}, fmt.Errorf("%w: client is required", ErrPrecondition)
	}
	if _, err := e.Repo.GetClient(ctx, opts.ClientID); err != nil {
		return domain.Assessment{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.nowStr()
	a := domain.Assessment{
		ID:          opts.ID,
		ClientID:    opts.ClientID,
		Name:        opts.Name,
		Phase:       opts.Phase,
		Status:      "active",
		Description: opts.Description,
		CreatedAt:   now,
	}
	p := domain.SignoffProcess{
		ID:           uuid.NewString(),
		AssessmentID: a.ID,
		Stage:        string(stage.NotStarted),
		Cycle:        1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assessment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertAssessment(ctx, tx, a); err != nil {
		return domain.Assessment{}, fmt.Errorf("insert assessment: %w", err)
	}
	if err := e.Repo.InsertSignoffProcess(ctx, tx, p); err != nil {
		return domain.Assessment{}, fmt.Errorf("insert signoff process: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "assessment.created", a.ID, "assessment", a.ID, opts.ActorID, events.EventPayload{"name": a.Name, "phase": a.Phase}); err != nil {
		return domain.Assessment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assessment{}, err
	}
	return a, nil
}
