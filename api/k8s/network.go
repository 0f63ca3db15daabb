package k8s

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"appcore/api/model"
)

func (c *Client) CreateService(ctx context.Context, namespace string, spec model.ServiceSpec) error {
	svcType := corev1.ServiceTypeClusterIP
	if spec.Type != "" {
		svcType = corev1.ServiceType(spec.Type)
	}
	target := spec.TargetPort
	if target == 0 {
		target = spec.Port
	}
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: namespace,
			Labels:    objectLabels(spec.Name, nil),
		},
		Spec: corev1.ServiceSpec{
			Selector: spec.Selector,
			Type:     svcType,
			Ports: []corev1.ServicePort{{
				Port:       int32(spec.Port),
				TargetPort: intstr.FromInt32(int32(target)),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
	_, err := c.cs.CoreV1().Services(namespace).Create(ctx, svc, metav1.CreateOptions{})
	if k8serrors.IsAlreadyExists(err) {
		return nil
	}
	return wrap(err, "create service %s", spec.Name)
}

func (c *Client) DeleteService(ctx context.Context, namespace, name string) error {
	err := c.cs.CoreV1().Services(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	return wrap(ignoreNotFound(err), "delete service %s", name)
}

// GetServiceEndpoints lists the addresses the service is reachable at: the
// cluster DNS name, load balancer addresses and any ingress routing to it.
func (c *Client) GetServiceEndpoints(ctx context.Context, namespace, name string) ([]model.Endpoint, error) {
	svc, err := c.cs.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, wrap(err, "get service %s", name)
	}
	var port int32
	if len(svc.Spec.Ports) > 0 {
		port = svc.Spec.Ports[0].Port
	}

	var endpoints []model.Endpoint
	switch svc.Spec.Type {
	case corev1.ServiceTypeClusterIP, "":
		endpoints = append(endpoints, model.Endpoint{
			Type: "cluster-ip",
			URL:  fmt.Sprintf("%s.%s.svc.cluster.local:%d", svc.Name, namespace, port),
			Port: int(port),
		})
	case corev1.ServiceTypeNodePort:
		if len(svc.Spec.Ports) > 0 {
			endpoints = append(endpoints, model.Endpoint{Type: "node-port", Port: int(svc.Spec.Ports[0].NodePort)})
		}
	case corev1.ServiceTypeLoadBalancer:
		for _, ing := range svc.Status.LoadBalancer.Ingress {
			host := ing.IP
			if host == "" {
				host = ing.Hostname
			}
			if host != "" {
				endpoints = append(endpoints, model.Endpoint{
					Type: "load-balancer",
					URL:  fmt.Sprintf("http://%s:%d", host, port),
					Port: int(port),
				})
			}
		}
	}

	ingresses, err := c.cs.NetworkingV1().Ingresses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		c.log.Warnf("list ingresses in %s: %v", namespace, err)
		return endpoints, nil
	}
	for _, ing := range ingresses.Items {
		scheme := "http"
		if len(ing.Spec.TLS) > 0 {
			scheme = "https"
		}
		for _, rule := range ing.Spec.Rules {
			if rule.HTTP == nil {
				continue
			}
			for _, p := range rule.HTTP.Paths {
				if p.Backend.Service != nil && p.Backend.Service.Name == name {
					endpoints = append(endpoints, model.Endpoint{
						Type: "ingress",
						URL:  fmt.Sprintf("%s://%s%s", scheme, rule.Host, p.Path),
					})
				}
			}
		}
	}
	return endpoints, nil
}

func (c *Client) ingressObject(namespace string, spec model.IngressSpec) *networkingv1.Ingress {
	path := spec.Path
	if path == "" {
		path = "/"
	}
	ing := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:        spec.Name,
			Namespace:   namespace,
			Labels:      objectLabels(spec.ServiceName, nil),
			Annotations: spec.Annotations,
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: spec.Host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     path,
							PathType: ptr(networkingv1.PathTypePrefix),
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: spec.ServiceName,
									Port: networkingv1.ServiceBackendPort{Number: int32(spec.ServicePort)},
								},
							},
						}},
					},
				},
			}},
		},
	}
	if spec.TLSEnabled && spec.Host != "" {
		ing.Spec.TLS = []networkingv1.IngressTLS{{
			Hosts:      []string{spec.Host},
			SecretName: spec.Name + "-tls",
		}}
	}
	return ing
}

func (c *Client) CreateIngress(ctx context.Context, namespace string, spec model.IngressSpec) error {
	_, err := c.cs.NetworkingV1().Ingresses(namespace).Create(ctx, c.ingressObject(namespace, spec), metav1.CreateOptions{})
	return wrap(err, "create ingress %s", spec.Name)
}

// UpdateIngress replaces the ingress rules, creating the ingress when it does
// not exist yet.
func (c *Client) UpdateIngress(ctx context.Context, namespace string, spec model.IngressSpec) error {
	existing, err := c.cs.NetworkingV1().Ingresses(namespace).Get(ctx, spec.Name, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return c.CreateIngress(ctx, namespace, spec)
	}
	if err != nil {
		return wrap(err, "get ingress %s", spec.Name)
	}
	desired := c.ingressObject(namespace, spec)
	existing.Annotations = desired.Annotations
	existing.Spec = desired.Spec
	_, err = c.cs.NetworkingV1().Ingresses(namespace).Update(ctx, existing, metav1.UpdateOptions{})
	return wrap(err, "update ingress %s", spec.Name)
}

func (c *Client) DeleteIngress(ctx context.Context, namespace, name string) error {
	err := c.cs.NetworkingV1().Ingresses(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	return wrap(ignoreNotFound(err), "delete ingress %s", name)
}
