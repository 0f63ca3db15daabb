package function

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"appcore/api/logger"
	"appcore/api/model"
	"appcore/api/runtime"
	"appcore/api/storage"
)

var log = logger.NewLogger("appcore.function")

// ObjectStore receives packaged inline sources.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
}

type runtimeInfo struct {
	base string
	file string
}

var runtimes = map[model.FunctionRuntime]runtimeInfo{
	model.RuntimeGo:     {"golang:1.24-alpine", "main.go"},
	model.RuntimePython: {"python:3.12-slim", "main.py"},
	model.RuntimeNodeJS: {"node:20-alpine", "index.js"},
	model.RuntimeJava:   {"eclipse-temurin:21-jdk", "Handler.java"},
	model.RuntimeDotNet: {"mcr.microsoft.com/dotnet/sdk:8.0", "Function.cs"},
	model.RuntimeRuby:   {"ruby:3.3-alpine", "handler.rb"},
}

// FunctionImage is the registry reference a version is built into.
func FunctionImage(registry, name string, version int) string {
	return fmt.Sprintf("%s/%s:v%d", strings.TrimSuffix(registry, "/"), name, version)
}

type BuilderOptions struct {
	Runner       runtime.Runner
	Objects      ObjectStore
	Bucket       string
	BuilderImage string
	Registry     string
	Timeout      time.Duration
	Env          map[string]string // builder container env, e.g. S3 endpoint and credentials
}

// ImageBuilder builds function versions into container images by running a
// kaniko-style builder container against the version's source.
type ImageBuilder struct {
	opts BuilderOptions
}

func NewImageBuilder(opts BuilderOptions) *ImageBuilder {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Minute
	}
	return &ImageBuilder{opts: opts}
}

func (b *ImageBuilder) Build(ctx context.Context, app *model.Application, v *model.FunctionVersion) (string, string, error) {
	if v.SourceType == model.FunctionSourceImage {
		return v.SourceURL, "", nil
	}
	if app.Function == nil {
		return "", "", fmt.Errorf("application %s is not a function", app.Name)
	}
	if b.opts.Runner == nil {
		return "", "", errors.New("no container runner configured")
	}

	buildCtx, err := b.buildContext(ctx, app, v)
	if err != nil {
		return "", "", err
	}
	image := FunctionImage(b.opts.Registry, app.Name, v.VersionNumber)
	flog := log.WithFields(map[string]any{"application_id": app.ID, "version": v.VersionNumber})
	flog.Infof("building %s from %s", image, buildCtx)

	res, err := b.opts.Runner.Run(ctx, runtime.RunOpts{
		Name:  "appcore-build",
		Image: b.opts.BuilderImage,
		Args: []string{
			"--context", buildCtx,
			"--destination", image,
			"--build-arg", "HANDLER=" + app.Function.Handler,
			"--build-arg", "RUNTIME=" + string(app.Function.Runtime),
		},
		Env:     b.opts.Env,
		Timeout: b.opts.Timeout,
		Memory:  "2g",
		Network: "bridge",
	})
	var logs string
	if res != nil {
		logs = res.Output
	}
	if err != nil {
		return "", logs, fmt.Errorf("run builder: %w", err)
	}
	if res.ExitCode != 0 {
		return "", logs, fmt.Errorf("builder exited with code %d", res.ExitCode)
	}
	flog.Infof("built %s in %s", image, res.Duration)
	return image, logs, nil
}

// buildContext returns the builder's --context for a version, uploading
// inline sources first.
func (b *ImageBuilder) buildContext(ctx context.Context, app *model.Application, v *model.FunctionVersion) (string, error) {
	switch v.SourceType {
	case model.FunctionSourceS3:
		return v.SourceURL, nil
	case model.FunctionSourceGit:
		url := v.SourceURL
		for _, scheme := range []string{"https://", "http://"} {
			url = strings.TrimPrefix(url, scheme)
		}
		if !strings.HasPrefix(url, "git://") {
			url = "git://" + url
		}
		return url, nil
	case model.FunctionSourceInline, "":
	default:
		return "", fmt.Errorf("unsupported source type %q", v.SourceType)
	}

	if b.opts.Objects == nil {
		return "", errors.New("no object storage configured for inline sources")
	}
	archive, err := packageSource(app.Function, v.SourceCode)
	if err != nil {
		return "", err
	}
	key := storage.FunctionSourceKey(app.Name, v.VersionNumber)
	if err := b.opts.Objects.PutObject(ctx, b.opts.Bucket, key, bytes.NewReader(archive), int64(len(archive)), "application/gzip"); err != nil {
		return "", fmt.Errorf("upload source: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", b.opts.Bucket, key), nil
}

// packageSource produces a gzipped tar holding the source file and a
// Dockerfile for the function's runtime.
func packageSource(fn *model.FunctionSpec, code string) ([]byte, error) {
	info, ok := runtimes[fn.Runtime]
	if !ok {
		return nil, fmt.Errorf("unsupported runtime %q", fn.Runtime)
	}
	dockerfile := fmt.Sprintf("FROM %s\nWORKDIR /function\nCOPY %s .\nENV HANDLER=%s\nEXPOSE 8080\n", info.base, info.file, fn.Handler)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, f := range []struct{ name, body string }{
		{"Dockerfile", dockerfile},
		{info.file, code},
	} {
		hdr := &tar.Header{Name: f.name, Mode: 0644, Size: int64(len(f.body))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
