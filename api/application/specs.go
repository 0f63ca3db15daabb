package application

import (
	"fmt"

	"appcore/api/model"
)

func deploymentSpec(app *model.Application) model.DeploymentSpec {
	return model.DeploymentSpec{
		Name:         app.Name,
		Replicas:     app.Config.Replicas,
		Image:        app.Source.Image,
		Port:         app.Config.Port,
		EnvVars:      app.Config.EnvVars,
		Resources:    app.Config.Resources,
		NodeSelector: app.Config.NodeSelector,
		Labels:       workloadLabels(app),
	}
}

func statefulSetSpec(app *model.Application) model.StatefulSetSpec {
	spec := model.StatefulSetSpec{
		Name:         app.Name,
		Replicas:     app.Config.Replicas,
		Image:        app.Source.Image,
		Port:         app.Config.Port,
		EnvVars:      app.Config.EnvVars,
		Resources:    app.Config.Resources,
		NodeSelector: app.Config.NodeSelector,
		Labels:       workloadLabels(app),
	}
	if st := app.Config.Storage; st != nil {
		claim := pvcSpec(app)
		spec.VolumeClaimSpec = &claim
		spec.MountPath = st.MountPath
	}
	return spec
}

func pvcSpec(app *model.Application) model.PVCSpec {
	return model.PVCSpec{
		Name:         dataClaimName(app),
		Size:         app.Config.Storage.Size,
		StorageClass: app.Config.Storage.StorageClass,
	}
}

func serviceSpec(app *model.Application) model.ServiceSpec {
	return model.ServiceSpec{
		Name:     app.Name,
		Port:     app.Config.Port,
		Selector: workloadLabels(app),
		Type:     "ClusterIP",
	}
}

func ingressSpec(app *model.Application) model.IngressSpec {
	nc := app.Config.NetworkConfig
	return model.IngressSpec{
		Name:        app.Name,
		Host:        nc.CustomDomain,
		Path:        nc.IngressPath,
		ServiceName: app.Name,
		ServicePort: app.Config.Port,
		TLSEnabled:  nc.TLSEnabled,
		Annotations: nc.Annotations,
	}
}

func wantsIngress(app *model.Application) bool {
	return app.Config.NetworkConfig != nil && app.Config.NetworkConfig.CreateIngress
}

func cronJobSpec(app *model.Application, annotationPrefix string) model.CronJobSpec {
	return model.CronJobSpec{
		Name:              app.Name,
		Schedule:          app.CronSchedule,
		Image:             app.Source.Image,
		Command:           app.CronCommand,
		Args:              app.CronArgs,
		EnvVars:           app.Config.EnvVars,
		Resources:         app.Config.Resources,
		NodeSelector:      app.Config.NodeSelector,
		Labels:            map[string]string{"app": app.Name, "type": "cronjob"},
		Annotations:       map[string]string{annotationPrefix + "/app-id": app.ID},
		RestartPolicy:     "OnFailure",
		ConcurrencyPolicy: "Forbid",
	}
}

func serverlessSpec(app *model.Application, v *model.FunctionVersion) model.ServerlessSpec {
	fn := app.Function
	return model.ServerlessSpec{
		Name:           app.Name,
		Image:          v.ImageURI,
		EnvVars:        fn.EnvVars,
		Secrets:        fn.Secrets,
		Resources:      app.Config.Resources,
		Labels:         map[string]string{"app": app.Name, "function-version": fmt.Sprintf("v%d", v.VersionNumber)},
		TimeoutSeconds: fn.Timeout,
		Port:           app.Config.Port,
	}
}
