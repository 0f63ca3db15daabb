package k8s

import (
	"context"
	"fmt"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"appcore/api/model"
)

const defaultFunctionPort = 8080

func secretName(fn string) string { return fn + "-secrets" }

// ServerlessURL is the in-cluster address of a function's service.
func ServerlessURL(namespace, name string) string {
	return fmt.Sprintf("http://%s.%s.svc.cluster.local", name, namespace)
}

func (c *Client) serverlessDeployment(namespace string, spec model.ServerlessSpec) (*appsv1.Deployment, error) {
	port := spec.Port
	if port == 0 {
		port = defaultFunctionPort
	}
	labels := objectLabels(spec.Name, spec.Labels)
	labels["type"] = "function"
	tmpl, err := c.podTemplate(spec.Name, spec.Image, port, spec.EnvVars, spec.Resources, nil, labels)
	if err != nil {
		return nil, err
	}
	if len(spec.Secrets) > 0 {
		tmpl.Spec.Containers[0].EnvFrom = envFromSecret(secretName(spec.Name))
	}
	tmpl.Annotations = map[string]string{
		c.annotationKey("timeout-seconds"): strconv.Itoa(spec.TimeoutSeconds),
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: namespace,
			Labels:    labels,
			Annotations: map[string]string{
				c.annotationKey("scale-to-zero"): "true",
			},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": spec.Name}},
			Template: tmpl,
		},
	}, nil
}

func (c *Client) upsertSecret(ctx context.Context, namespace, name string, data map[string]string) error {
	if len(data) == 0 {
		return nil
	}
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    map[string]string{"managed-by": managedBy},
		},
		StringData: data,
	}
	_, err := c.cs.CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{})
	if k8serrors.IsAlreadyExists(err) {
		_, err = c.cs.CoreV1().Secrets(namespace).Update(ctx, secret, metav1.UpdateOptions{})
	}
	return wrap(err, "write secret %s", name)
}

func (c *Client) CreateServerlessService(ctx context.Context, namespace string, spec model.ServerlessSpec) error {
	if err := c.upsertSecret(ctx, namespace, secretName(spec.Name), spec.Secrets); err != nil {
		return err
	}
	dep, err := c.serverlessDeployment(namespace, spec)
	if err != nil {
		return fmt.Errorf("create function %s: %w", spec.Name, err)
	}
	if _, err := c.cs.AppsV1().Deployments(namespace).Create(ctx, dep, metav1.CreateOptions{}); err != nil {
		return wrap(err, "create function deployment %s", spec.Name)
	}
	port := spec.Port
	if port == 0 {
		port = defaultFunctionPort
	}
	return c.CreateService(ctx, namespace, model.ServiceSpec{
		Name:       spec.Name,
		Port:       80,
		TargetPort: port,
		Selector:   map[string]string{"app": spec.Name},
	})
}

// UpdateServerlessService rolls the function to a new image and environment.
func (c *Client) UpdateServerlessService(ctx context.Context, namespace string, spec model.ServerlessSpec) error {
	if err := c.upsertSecret(ctx, namespace, secretName(spec.Name), spec.Secrets); err != nil {
		return err
	}
	existing, err := c.cs.AppsV1().Deployments(namespace).Get(ctx, spec.Name, metav1.GetOptions{})
	if err != nil {
		return wrap(err, "get function deployment %s", spec.Name)
	}
	desired, err := c.serverlessDeployment(namespace, spec)
	if err != nil {
		return fmt.Errorf("update function %s: %w", spec.Name, err)
	}
	existing.Spec.Template = desired.Spec.Template
	_, err = c.cs.AppsV1().Deployments(namespace).Update(ctx, existing, metav1.UpdateOptions{})
	return wrap(err, "update function deployment %s", spec.Name)
}

func (c *Client) DeleteServerlessService(ctx context.Context, namespace, name string) error {
	if err := c.DeleteDeployment(ctx, namespace, name); err != nil {
		return err
	}
	if err := c.DeleteService(ctx, namespace, name); err != nil {
		return err
	}
	err := c.cs.CoreV1().Secrets(namespace).Delete(ctx, secretName(name), metav1.DeleteOptions{})
	return wrap(ignoreNotFound(err), "delete secret %s", secretName(name))
}

func (c *Client) GetServerlessStatus(ctx context.Context, namespace, name string) (*model.ServerlessStatus, error) {
	dep, err := c.cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, wrap(err, "get function deployment %s", name)
	}
	status := &model.ServerlessStatus{
		Name:  name,
		URL:   ServerlessURL(namespace, name),
		Ready: dep.Status.ReadyReplicas > 0,
	}
	if cs := dep.Spec.Template.Spec.Containers; len(cs) > 0 {
		status.Image = cs[0].Image
	}
	return status, nil
}

// GetServerlessURL returns the function URL once its service exists.
func (c *Client) GetServerlessURL(ctx context.Context, namespace, name string) (string, error) {
	if _, err := c.cs.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{}); err != nil {
		return "", wrap(err, "get function service %s", name)
	}
	return ServerlessURL(namespace, name), nil
}
