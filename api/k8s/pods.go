package k8s

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"appcore/api/model"
)

func (c *Client) ListPods(ctx context.Context, namespace string, selector map[string]string) ([]model.Pod, error) {
	list, err := c.cs.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: metav1.FormatLabelSelector(&metav1.LabelSelector{MatchLabels: selector}),
	})
	if err != nil {
		return nil, wrap(err, "list pods")
	}

	pods := make([]model.Pod, 0, len(list.Items))
	for _, p := range list.Items {
		pod := model.Pod{
			Name:     p.Name,
			Status:   string(p.Status.Phase),
			NodeName: p.Spec.NodeName,
			IP:       p.Status.PodIP,
			Labels:   p.Labels,
		}
		if p.Status.StartTime != nil {
			t := p.Status.StartTime.Time
			pod.StartedAt = &t
		}
		ready := len(p.Status.ContainerStatuses) > 0
		for _, cs := range p.Status.ContainerStatuses {
			pod.Restarts += int(cs.RestartCount)
			ready = ready && cs.Ready
		}
		pod.Ready = ready
		pods = append(pods, pod)
	}
	return pods, nil
}

// RestartPod deletes the pod so its controller recreates it.
func (c *Client) RestartPod(ctx context.Context, namespace, podName string) error {
	err := c.cs.CoreV1().Pods(namespace).Delete(ctx, podName, metav1.DeleteOptions{})
	return wrap(err, "restart pod %s", podName)
}

func logOptions(opts model.LogOptions) *corev1.PodLogOptions {
	o := &corev1.PodLogOptions{
		Container:  opts.Container,
		Follow:     opts.Follow,
		Previous:   opts.Previous,
		Timestamps: true,
	}
	if opts.Since != nil {
		since := metav1.NewTime(*opts.Since)
		o.SinceTime = &since
	}
	if opts.TailLines > 0 {
		o.TailLines = ptr(int64(opts.TailLines))
	}
	return o
}

func (c *Client) GetPodLogs(ctx context.Context, namespace, podName string, opts model.LogOptions) ([]model.LogEntry, error) {
	opts.Follow = false
	raw, err := c.cs.CoreV1().Pods(namespace).GetLogs(podName, logOptions(opts)).DoRaw(ctx)
	if err != nil {
		return nil, wrap(err, "get logs for pod %s", podName)
	}
	return parseLogLines(raw, podName, opts.Container), nil
}

func (c *Client) StreamPodLogs(ctx context.Context, namespace, podName string, opts model.LogOptions) (io.ReadCloser, error) {
	rc, err := c.cs.CoreV1().Pods(namespace).GetLogs(podName, logOptions(opts)).Stream(ctx)
	if err != nil {
		return nil, wrap(err, "stream logs for pod %s", podName)
	}
	return rc, nil
}

// parseLogLines splits kubelet output of the form "<RFC3339Nano> <message>".
func parseLogLines(raw []byte, podName, container string) []model.LogEntry {
	var entries []model.LogEntry
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		entry := model.LogEntry{PodName: podName, Container: container, Message: line}
		if ts, msg, ok := strings.Cut(line, " "); ok {
			if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				entry.Timestamp = t
				entry.Message = msg
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

type podMetricsResponse struct {
	Containers []struct {
		Usage map[string]string `json:"usage"`
	} `json:"containers"`
}

// GetPodMetrics reads usage from the metrics.k8s.io API. Pods without
// metrics are skipped.
func (c *Client) GetPodMetrics(ctx context.Context, namespace string, podNames []string) ([]model.PodMetrics, error) {
	if c.metrics == nil {
		return nil, nil
	}
	var out []model.PodMetrics
	for _, name := range podNames {
		raw, err := c.metrics.Get().
			AbsPath("/apis/metrics.k8s.io/v1beta1/namespaces", namespace, "pods", name).
			DoRaw(ctx)
		if err != nil {
			c.log.Debugf("no metrics for pod %s/%s: %v", namespace, name, err)
			continue
		}
		m, err := decodePodMetrics(name, raw)
		if err != nil {
			return nil, fmt.Errorf("decode metrics for pod %s: %w", name, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func decodePodMetrics(podName string, raw []byte) (model.PodMetrics, error) {
	var resp podMetricsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return model.PodMetrics{}, err
	}
	m := model.PodMetrics{PodName: podName}
	for _, ctr := range resp.Containers {
		if v, ok := ctr.Usage["cpu"]; ok {
			if q, err := resource.ParseQuantity(v); err == nil {
				m.CPUUsage += float64(q.MilliValue()) / 1000
			}
		}
		if v, ok := ctr.Usage["memory"]; ok {
			if q, err := resource.ParseQuantity(v); err == nil {
				m.MemoryUsage += float64(q.Value()) / (1024 * 1024)
			}
		}
	}
	return m, nil
}
