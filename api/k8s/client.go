package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"appcore/api/apperr"
	"appcore/api/logger"
	"appcore/api/model"
)

const managedBy = "appcore"

// Client is the Substrate Gateway backed by a Kubernetes cluster. Every
// operation takes the namespace resolved for the application's project.
type Client struct {
	cs         kubernetes.Interface
	metrics    rest.Interface // metrics.k8s.io, nil when unavailable
	annotation string
	log        logger.Logger
}

func NewClient(annotationPrefix string) (*Client, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			kubeconfig = filepath.Join(os.Getenv("HOME"), ".kube", "config")
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("k8s config: %w", err)
		}
	}
	cs, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("k8s clientset: %w", err)
	}
	c := NewForClientset(cs, annotationPrefix)
	c.metrics = cs.CoreV1().RESTClient()
	return c, nil
}

// NewForClientset wraps an existing clientset. Pod metrics are not collected.
func NewForClientset(cs kubernetes.Interface, annotationPrefix string) *Client {
	return &Client{
		cs:         cs,
		annotation: annotationPrefix,
		log:        logger.NewLogger("appcore.k8s"),
	}
}

// Ping checks the API server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cs.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1})
	return err
}

func (c *Client) EnsureNamespace(ctx context.Context, namespace string) error {
	_, err := c.cs.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if !k8serrors.IsNotFound(err) {
		return fmt.Errorf("get namespace %s: %w", namespace, err)
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{
		Name:   namespace,
		Labels: map[string]string{"managed-by": managedBy},
	}}
	_, err = c.cs.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	if err != nil && !k8serrors.IsAlreadyExists(err) {
		return fmt.Errorf("create namespace %s: %w", namespace, err)
	}
	return nil
}

func IsAlreadyExists(err error) bool {
	return k8serrors.IsAlreadyExists(err)
}

func IsNotFound(err error) bool {
	return k8serrors.IsNotFound(err)
}

// ignoreNotFound makes deletes idempotent.
func ignoreNotFound(err error) error {
	if k8serrors.IsNotFound(err) {
		return nil
	}
	return err
}

// wrap annotates err and maps API NotFound onto apperr.ErrNotFound.
func wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if k8serrors.IsNotFound(err) {
		return fmt.Errorf(format+": %w", append(args, apperr.ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func (c *Client) annotationKey(name string) string {
	return c.annotation + "/" + name
}

func objectLabels(name string, extra map[string]string) map[string]string {
	labels := map[string]string{"managed-by": managedBy, "app": name}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}

func envVars(env map[string]string) []corev1.EnvVar {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		out = append(out, corev1.EnvVar{Name: k, Value: env[k]})
	}
	return out
}

func resourceRequirements(r model.Resources) (corev1.ResourceRequirements, error) {
	var req corev1.ResourceRequirements
	set := func(list *corev1.ResourceList, name corev1.ResourceName, value string) error {
		if value == "" {
			return nil
		}
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return fmt.Errorf("invalid %s quantity %q: %w", name, value, err)
		}
		if *list == nil {
			*list = corev1.ResourceList{}
		}
		(*list)[name] = q
		return nil
	}
	if err := set(&req.Requests, corev1.ResourceCPU, r.CPURequest); err != nil {
		return req, err
	}
	if err := set(&req.Limits, corev1.ResourceCPU, r.CPULimit); err != nil {
		return req, err
	}
	if err := set(&req.Requests, corev1.ResourceMemory, r.MemoryRequest); err != nil {
		return req, err
	}
	if err := set(&req.Limits, corev1.ResourceMemory, r.MemoryLimit); err != nil {
		return req, err
	}
	return req, nil
}

func envFromSecret(name string) []corev1.EnvFromSource {
	if name == "" {
		return nil
	}
	return []corev1.EnvFromSource{{
		SecretRef: &corev1.SecretEnvSource{
			LocalObjectReference: corev1.LocalObjectReference{Name: name},
			Optional:             ptr(true),
		},
	}}
}

// imagePullPolicy mirrors the kubelet default: mutable tags are always
// pulled, pinned tags and digests only when missing.
func imagePullPolicy(image string) corev1.PullPolicy {
	if strings.Contains(image, "@") {
		return corev1.PullIfNotPresent
	}
	name := image[strings.LastIndex(image, "/")+1:]
	i := strings.LastIndex(name, ":")
	if i < 0 || name[i+1:] == "latest" {
		return corev1.PullAlways
	}
	return corev1.PullIfNotPresent
}

func ptr[T any](v T) *T { return &v }
