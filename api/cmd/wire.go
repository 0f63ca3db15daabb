package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"appcore/api/application"
	"appcore/api/auth"
	"appcore/api/backup"
	"appcore/api/events"
	"appcore/api/function"
	"appcore/api/handler"
	"appcore/api/hub"
	"appcore/api/k8s"
	"appcore/api/project"
	"appcore/api/runtime"
	"appcore/api/storage"
	"appcore/api/store"
	"appcore/api/worker"
)

// backend is what both the lifecycle engine and the backup service need
// from persistence. store.DB and store.Memory implement it.
type backend interface {
	application.Store
	backup.Store
	Ping(ctx context.Context) error
}

func openStore() (backend, func(), error) {
	switch cfg.Store {
	case "memory":
		log.Warnf("using in-memory store, state is lost on restart")
		return store.NewMemory(), func() {}, nil
	case "postgres", "":
		db, err := store.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		if err := store.Migrate(db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migration: %w", err)
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// components is the wired object graph shared by serve and manifests apply.
type components struct {
	store    backend
	kube     *k8s.Client
	projects *project.Resolver
	objects  *storage.Client
	hub      *hub.Hub
	pool     *worker.Pool
	apps     *application.Service

	closers []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func allowedOrigins() []string {
	origins := []string{"http://localhost:5173", "http://localhost:3000"}
	if cfg.AllowedOrigins != "" {
		for _, o := range strings.Split(cfg.AllowedOrigins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				origins = append(origins, o)
			}
		}
	}
	return origins
}

// hubScope lets an authenticated subscriber watch only its own workspace.
func hubScope(r *http.Request) string {
	if claims, ok := auth.FromContext(r.Context()); ok {
		return claims.WorkspaceID
	}
	return r.URL.Query().Get("workspace")
}

func wire() (*components, error) {
	c := &components{}

	st, closeStore, err := openStore()
	if err != nil {
		return nil, err
	}
	c.store = st
	c.closers = append(c.closers, closeStore)

	c.kube, err = k8s.NewClient(cfg.AnnotationPrefix)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("kubernetes: %w", err)
	}

	c.projects = project.NewResolver(project.Options{
		Prefix:   cfg.NamespacePrefix,
		Address:  cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Database: cfg.RedisDB,
	})
	c.closers = append(c.closers, func() {
		if err := c.projects.Close(); err != nil {
			log.Warnf("%v", err)
		}
	})

	if cfg.S3Endpoint != "" {
		c.objects, err = storage.NewClient(storage.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			log.Warnf("S3 storage unavailable (%v)", err)
			c.objects = nil
		} else {
			log.Infof("S3 storage connected at %s", c.objects.Endpoint())
		}
	}

	c.hub = hub.New(allowedOrigins(), hubScope)
	publishers := events.Multi{c.hub}
	if cfg.CloudEventsSink != "" {
		ce, err := events.NewCloudEventsPublisher(cfg.CloudEventsSink, "appcore")
		if err != nil {
			log.Warnf("cloudevents sink disabled: %v", err)
		} else {
			publishers = append(publishers, ce)
		}
	}

	c.pool = worker.NewPool(cfg.ReconcileWorkers, cfg.ReconcileQueue)

	var buckets backup.Buckets
	builderOpts := function.BuilderOptions{
		Runner:       runtime.NewDockerRunner(),
		Bucket:       cfg.S3Bucket,
		BuilderImage: cfg.BuilderImage,
		Registry:     cfg.FunctionRegistry,
	}
	if c.objects != nil {
		buckets = c.objects
		builderOpts.Objects = c.objects
		builderOpts.Env = map[string]string{
			"AWS_ACCESS_KEY_ID":     cfg.S3AccessKey,
			"AWS_SECRET_ACCESS_KEY": cfg.S3SecretKey,
			"AWS_REGION":            cfg.S3Region,
			"S3_ENDPOINT":           cfg.S3Endpoint,
		}
	}

	c.apps = application.NewService(application.Options{
		Store:            st,
		Kube:             c.kube,
		Backups:          backup.NewService(st, buckets),
		Projects:         c.projects,
		Dispatcher:       c.pool,
		Publisher:        publishers,
		Builder:          function.NewImageBuilder(builderOpts),
		Invoker:          function.NewHTTPInvoker(cfg.InvokeTimeout),
		AnnotationPrefix: cfg.AnnotationPrefix,
	})
	return c, nil
}

func (c *components) healthChecks() []handler.HealthCheck {
	checks := []handler.HealthCheck{
		{Name: "store", Check: c.store.Ping},
		{Name: "kubernetes", Check: c.kube.Ping},
		{Name: "redis"},
		{Name: "s3"},
	}
	if cfg.RedisAddr != "" {
		checks[2].Check = c.projects.Ping
	}
	if c.objects != nil {
		checks[3].Check = c.objects.Healthy
	}
	return checks
}
