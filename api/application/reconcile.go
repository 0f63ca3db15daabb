package application

import (
	"context"
	"errors"
	"fmt"

	"appcore/api/apperr"
	"appcore/api/model"
)

// UpdateDelta records which parts of an application an Update changed, so
// the reconciler only pushes those to the substrate.
type UpdateDelta struct {
	Image        string
	EnvVars      bool
	Resources    bool
	Network      bool
	NodeSelector bool
}

// errSuperseded means the stored application moved on while a
// reconciliation was in flight.
var errSuperseded = errors.New("application state changed during reconciliation")

// Reconciler converges the substrate to the stored application. It reports
// outcomes only through status and events; nothing is returned to callers.
type Reconciler struct {
	store    Store
	kube     SubstrateGateway
	projects ProjectResolver
	events   *eventLog

	annotationPrefix string
}

// Deploy creates the workload, its service and optionally its ingress, then
// marks the application Running. Any fatal step leaves it in Error.
func (r *Reconciler) Deploy(ctx context.Context, appID string) {
	rlog := log.WithFields(map[string]any{"application_id": appID})
	app, err := r.store.GetApplication(ctx, appID)
	if err != nil {
		rlog.Errorf("deploy: failed to load application: %v", err)
		return
	}
	ns, err := r.projects.Namespace(ctx, app.WorkspaceID, app.ProjectID)
	if err != nil {
		r.fail(ctx, app, model.EventDeploymentFailed, fmt.Errorf("resolve namespace: %w", err))
		return
	}

	switch app.Type {
	case model.TypeStateless:
		err = r.kube.CreateDeployment(ctx, ns, deploymentSpec(app))
	case model.TypeStateful:
		if app.Config.Storage != nil {
			if err = r.kube.CreatePVC(ctx, ns, pvcSpec(app)); err != nil {
				break
			}
		}
		err = r.kube.CreateStatefulSet(ctx, ns, statefulSetSpec(app))
	case model.TypeCronJob:
		// The scheduled job resource is owned by the cronjob path.
		r.succeed(ctx, app, nil, model.EventDeploymentSucceeded, "Deployment succeeded")
		return
	case model.TypeFunction:
		err = fmt.Errorf("function applications are deployed by activating a version")
	default:
		err = fmt.Errorf("unsupported application type %q", app.Type)
	}
	if err != nil {
		r.fail(ctx, app, model.EventDeploymentFailed, err)
		return
	}

	if app.Config.Port > 0 {
		if err := r.kube.CreateService(ctx, ns, serviceSpec(app)); err != nil {
			r.fail(ctx, app, model.EventDeploymentFailed, err)
			return
		}
	}
	if wantsIngress(app) {
		if err := r.kube.CreateIngress(ctx, ns, ingressSpec(app)); err != nil {
			rlog.Warnf("ingress creation failed: %v", err)
			r.events.record(ctx, app, model.EventIngressFailed, "Failed to create ingress", err.Error())
		}
	}

	r.succeed(ctx, app, r.endpoints(ctx, ns, app), model.EventDeploymentSucceeded, "Deployment succeeded")
}

// Update pushes the fields named by delta to the running workload.
func (r *Reconciler) Update(ctx context.Context, appID string, delta UpdateDelta) {
	rlog := log.WithFields(map[string]any{"application_id": appID})
	app, err := r.store.GetApplication(ctx, appID)
	if err != nil {
		rlog.Errorf("update: failed to load application: %v", err)
		return
	}
	ns, err := r.projects.Namespace(ctx, app.WorkspaceID, app.ProjectID)
	if err != nil {
		r.fail(ctx, app, model.EventUpdateFailed, fmt.Errorf("resolve namespace: %w", err))
		return
	}

	upd := model.WorkloadUpdate{Replicas: app.Config.Replicas, Image: delta.Image}
	if delta.EnvVars {
		upd.EnvVars = app.Config.EnvVars
	}
	if delta.Resources {
		res := app.Config.Resources
		upd.Resources = &res
	}
	if delta.NodeSelector {
		upd.NodeSelector = app.Config.NodeSelector
	}

	switch app.Type {
	case model.TypeStateless:
		err = r.kube.UpdateDeployment(ctx, ns, app.Name, upd)
	case model.TypeStateful:
		err = r.kube.UpdateStatefulSet(ctx, ns, app.Name, upd)
	case model.TypeCronJob:
		err = r.kube.UpdateCronJob(ctx, ns, app.Name, cronJobSpec(app, r.annotationPrefix))
	case model.TypeFunction:
		err = r.updateFunction(ctx, ns, app)
	}
	if err != nil {
		r.fail(ctx, app, model.EventUpdateFailed, err)
		return
	}

	if delta.Network {
		if wantsIngress(app) {
			if err := r.kube.UpdateIngress(ctx, ns, ingressSpec(app)); err != nil {
				rlog.Warnf("ingress update failed: %v", err)
				r.events.record(ctx, app, model.EventIngressFailed, "Failed to update ingress", err.Error())
			}
		} else if err := r.kube.DeleteIngress(ctx, ns, app.Name); err != nil {
			rlog.Warnf("ingress removal failed: %v", err)
		}
	}

	r.succeed(ctx, app, r.endpoints(ctx, ns, app), model.EventUpdateSucceeded, "Update succeeded")
}

func (r *Reconciler) updateFunction(ctx context.Context, ns string, app *model.Application) error {
	v, err := r.store.GetActiveFunctionVersion(ctx, app.ID)
	if apperr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.kube.UpdateServerlessService(ctx, ns, serverlessSpec(app, v))
}

// Resume scales a stopped workload back to its stored replica count.
func (r *Reconciler) Resume(ctx context.Context, appID string) {
	rlog := log.WithFields(map[string]any{"application_id": appID})
	app, err := r.store.GetApplication(ctx, appID)
	if err != nil {
		rlog.Errorf("resume: failed to load application: %v", err)
		return
	}
	ns, err := r.projects.Namespace(ctx, app.WorkspaceID, app.ProjectID)
	if err != nil {
		r.fail(ctx, app, model.EventDeploymentFailed, fmt.Errorf("resolve namespace: %w", err))
		return
	}
	if err := scaleWorkload(ctx, r.kube, ns, app, app.Config.Replicas); err != nil {
		if !apperr.IsNotFound(err) {
			r.fail(ctx, app, model.EventDeploymentFailed, err)
			return
		}
		// The workload is gone; build it again.
		r.Deploy(ctx, appID)
		return
	}
	r.succeed(ctx, app, r.endpoints(ctx, ns, app), model.EventDeploymentSucceeded, "Application started")
}

func (r *Reconciler) endpoints(ctx context.Context, ns string, app *model.Application) []model.Endpoint {
	if app.Config.Port == 0 {
		return nil
	}
	eps, err := r.kube.GetServiceEndpoints(ctx, ns, app.Name)
	if err != nil {
		log.WithFields(map[string]any{"application_id": app.ID}).Warnf("failed to get endpoints: %v", err)
		return nil
	}
	return eps
}

func (r *Reconciler) succeed(ctx context.Context, app *model.Application, eps []model.Endpoint, evType, msg string) {
	updated, err := r.setStatus(ctx, app.ID, model.StatusRunning, func(a *model.Application) {
		if eps != nil {
			a.Endpoints = eps
		}
	})
	if err != nil {
		log.WithFields(map[string]any{"application_id": app.ID}).Warnf("failed to mark application running: %v", err)
		return
	}
	r.events.record(ctx, updated, evType, msg, "")
}

func (r *Reconciler) fail(ctx context.Context, app *model.Application, evType string, cause error) {
	rlog := log.WithFields(map[string]any{"application_id": app.ID})
	rlog.Errorf("reconciliation failed: %v", cause)
	if _, err := r.setStatus(ctx, app.ID, model.StatusError, nil); err != nil {
		rlog.Warnf("failed to mark application as error: %v", err)
	}
	msg := "Deployment failed"
	if evType == model.EventUpdateFailed {
		msg = "Update failed"
	}
	r.events.record(ctx, app, evType, msg, cause.Error())
}

// setStatus re-reads the application before writing so a reconciliation
// never clobbers fields changed since it was dispatched.
func (r *Reconciler) setStatus(ctx context.Context, id string, target model.ApplicationStatus, fn func(*model.Application)) (*model.Application, error) {
	return mutate(ctx, r.store, id, func(a *model.Application) error {
		if a.Status != target && !a.Status.CanTransition(target) {
			return fmt.Errorf("%w: status is %s", errSuperseded, a.Status)
		}
		a.Status = target
		if fn != nil {
			fn(a)
		}
		return nil
	})
}
