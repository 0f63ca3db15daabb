package project

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"appcore/api/logger"
)

var log = logger.NewLogger("appcore.project")

const maxNamespaceLen = 63

var invalidChars = regexp.MustCompile(`[^a-z0-9-]+`)

type Options struct {
	Prefix   string
	Address  string
	Password string
	Database int
	TTL      time.Duration
}

// Resolver maps a workspace/project pair onto the Kubernetes namespace that
// holds its workloads. Results are cached in redis when an address is
// configured.
type Resolver struct {
	prefix string
	ttl    time.Duration
	client *redis.Client
}

func NewResolver(opts Options) *Resolver {
	r := &Resolver{prefix: opts.Prefix, ttl: opts.TTL}
	if r.ttl == 0 {
		r.ttl = time.Hour
	}
	if opts.Address != "" {
		r.client = redis.NewClient(&redis.Options{
			Addr:     opts.Address,
			Password: opts.Password,
			DB:       opts.Database,
		})
	}
	return r
}

func (r *Resolver) Close() error {
	if r.client != nil {
		if err := r.client.Close(); err != nil {
			return fmt.Errorf("failed to close redis client: %w", err)
		}
	}
	return nil
}

// Ping reports redis health; a resolver without redis is always healthy.
func (r *Resolver) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

func cacheKey(workspaceID, projectID string) string {
	return "appcore:namespace:" + workspaceID + ":" + projectID
}

func (r *Resolver) Namespace(ctx context.Context, workspaceID, projectID string) (string, error) {
	if workspaceID == "" || projectID == "" {
		return "", errors.New("workspace and project are required to resolve a namespace")
	}
	if r.client != nil {
		ns, err := r.client.Get(ctx, cacheKey(workspaceID, projectID)).Result()
		switch {
		case err == nil:
			return ns, nil
		case !errors.Is(err, redis.Nil):
			log.Warnf("namespace cache lookup for %s/%s failed: %v", workspaceID, projectID, err)
		}
	}

	ns := NamespaceName(r.prefix, workspaceID, projectID)
	if r.client != nil {
		if err := r.client.Set(ctx, cacheKey(workspaceID, projectID), ns, r.ttl).Err(); err != nil {
			log.Warnf("namespace cache store for %s/%s failed: %v", workspaceID, projectID, err)
		}
	}
	return ns, nil
}

// Bind pins a workspace/project to an existing namespace.
func (r *Resolver) Bind(ctx context.Context, workspaceID, projectID, namespace string) error {
	if r.client == nil {
		return errors.New("namespace bindings require redis")
	}
	return r.client.Set(ctx, cacheKey(workspaceID, projectID), namespace, 0).Err()
}

// NamespaceName builds a DNS-1123 label "<prefix>-<workspace>-<project>".
// Names over 63 characters are truncated and suffixed with a short hash.
func NamespaceName(prefix, workspaceID, projectID string) string {
	parts := []string{prefix, workspaceID, projectID}
	if prefix == "" {
		parts = parts[1:]
	}
	name := strings.ToLower(strings.Join(parts, "-"))
	name = invalidChars.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if len(name) <= maxNamespaceLen {
		return name
	}
	sum := sha1.Sum([]byte(name))
	suffix := hex.EncodeToString(sum[:])[:8]
	return strings.TrimRight(name[:maxNamespaceLen-len(suffix)-1], "-") + "-" + suffix
}
