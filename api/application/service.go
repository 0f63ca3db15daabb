package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"appcore/api/apperr"
	"appcore/api/events"
	"appcore/api/logger"
	"appcore/api/model"
	"appcore/api/worker"
)

var log = logger.NewLogger("appcore.application")

// maxWriteRetries bounds read-modify-write loops that lose an optimistic
// concurrency race.
const maxWriteRetries = 3

type Options struct {
	Store      Store
	Kube       SubstrateGateway
	Backups    BackupService
	Projects   ProjectResolver
	Dispatcher Dispatcher
	Publisher  events.Publisher
	Builder    Builder
	Invoker    Invoker

	// AnnotationPrefix namespaces substrate annotations, e.g. "appcore.io".
	AnnotationPrefix string
}

// Service is the lifecycle engine for applications. CronJob, backup and
// function operations hang off the same type.
type Service struct {
	store      Store
	kube       SubstrateGateway
	backups    BackupService
	projects   ProjectResolver
	dispatch   Dispatcher
	builder    Builder
	invoker    Invoker
	events     *eventLog
	reconciler *Reconciler

	annotationPrefix string
	now              func() time.Time
}

func NewService(opts Options) *Service {
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Dispatcher == nil {
		// An unstarted pool runs every task on its own goroutine.
		opts.Dispatcher = worker.NewPool(1, 0)
	}
	if opts.AnnotationPrefix == "" {
		opts.AnnotationPrefix = "appcore.io"
	}
	el := &eventLog{store: opts.Store, pub: opts.Publisher, dispatch: opts.Dispatcher, now: time.Now}
	s := &Service{
		store:            opts.Store,
		kube:             opts.Kube,
		backups:          opts.Backups,
		projects:         opts.Projects,
		dispatch:         opts.Dispatcher,
		builder:          opts.Builder,
		invoker:          opts.Invoker,
		events:           el,
		annotationPrefix: opts.AnnotationPrefix,
		now:              time.Now,
	}
	s.reconciler = &Reconciler{
		store:            opts.Store,
		kube:             opts.Kube,
		projects:         opts.Projects,
		events:           el,
		annotationPrefix: opts.AnnotationPrefix,
	}
	return s
}

// Reconciler exposes the engine's reconciler for drivers and tests.
func (s *Service) Reconciler() *Reconciler { return s.reconciler }

// eventLog appends audit events and fans them out to live subscribers.
type eventLog struct {
	store    Store
	pub      events.Publisher
	dispatch Dispatcher
	now      func() time.Time
}

func (l *eventLog) record(ctx context.Context, app *model.Application, typ, msg, details string) {
	ev := &model.ApplicationEvent{
		ID:            uuid.NewString(),
		ApplicationID: app.ID,
		Type:          typ,
		Message:       msg,
		Details:       details,
		Timestamp:     l.now(),
	}
	if err := l.store.CreateEvent(ctx, ev); err != nil {
		log.WithFields(map[string]any{"application_id": app.ID}).Warnf("failed to record %s event: %v", typ, err)
	}
	workspaceID := app.WorkspaceID
	l.dispatch.Submit("publish "+typ, func(ctx context.Context) {
		if err := l.pub.Publish(ctx, workspaceID, ev); err != nil {
			log.WithFields(map[string]any{"application_id": ev.ApplicationID}).Warnf("failed to publish %s: %v", typ, err)
		}
	})
}

// storeErr classifies a store failure. Not-found and conflict errors keep
// their kind; anything else is a dependency failure.
func storeErr(op, msg string, err error) error {
	if err == nil {
		return nil
	}
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindConflict:
		return err
	}
	return apperr.Dependency(op, msg, err)
}

func (s *Service) getApplication(ctx context.Context, op, id string) (*model.Application, error) {
	app, err := s.store.GetApplication(ctx, id)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.NotFound(op, "application %s not found", id)
		}
		return nil, apperr.Dependency(op, "failed to get application", err)
	}
	return app, nil
}

func (s *Service) namespace(ctx context.Context, op string, app *model.Application) (string, error) {
	ns, err := s.projects.Namespace(ctx, app.WorkspaceID, app.ProjectID)
	if err != nil {
		return "", apperr.Dependency(op, "failed to resolve namespace", err)
	}
	return ns, nil
}

// transition moves app to target and persists it. The in-memory status is
// restored when the write fails.
func (s *Service) transition(ctx context.Context, op string, app *model.Application, target model.ApplicationStatus) error {
	if app.Status == target {
		return nil
	}
	if !app.Status.CanTransition(target) {
		return apperr.Precondition(op, "cannot transition application from %s to %s", app.Status, target)
	}
	prev := app.Status
	app.Status = target
	if err := s.store.UpdateApplication(ctx, app); err != nil {
		app.Status = prev
		return storeErr(op, "failed to update application", err)
	}
	return nil
}

// mutate re-reads the application, applies fn and writes it back, retrying
// when a concurrent writer got there first.
func mutate(ctx context.Context, st Store, id string, fn func(app *model.Application) error) (*model.Application, error) {
	for attempt := 0; ; attempt++ {
		app, err := st.GetApplication(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(app); err != nil {
			return nil, err
		}
		err = st.UpdateApplication(ctx, app)
		if err == nil {
			return app, nil
		}
		if !apperr.Is(err, apperr.KindConflict) || attempt >= maxWriteRetries {
			return nil, err
		}
		log.Debugf("retrying write of application %s after conflict: %v", id, err)
	}
}

func (s *Service) Get(ctx context.Context, id string) (*model.Application, error) {
	return s.getApplication(ctx, "get", id)
}

func (s *Service) List(ctx context.Context, workspaceID, projectID string) ([]*model.Application, error) {
	apps, err := s.store.ListApplications(ctx, workspaceID, projectID)
	if err != nil {
		return nil, apperr.Dependency("list", "failed to list applications", err)
	}
	return apps, nil
}

func (s *Service) ListEvents(ctx context.Context, id string, limit int) ([]*model.ApplicationEvent, error) {
	if _, err := s.getApplication(ctx, "list events", id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	evs, err := s.store.ListEvents(ctx, id, limit)
	if err != nil {
		return nil, apperr.Dependency("list events", "failed to list events", err)
	}
	return evs, nil
}

func workloadLabels(app *model.Application) map[string]string {
	return map[string]string{"app": app.Name}
}

func dataClaimName(app *model.Application) string {
	return fmt.Sprintf("%s-data", app.Name)
}
