package function

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"appcore/api/model"
)

const maxResponseBytes = 10 << 20

// HTTPInvoker calls a function's serverless service over plain HTTP.
type HTTPInvoker struct {
	client *http.Client
}

func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPInvoker{client: &http.Client{Timeout: timeout}}
}

func (i *HTTPInvoker) Invoke(ctx context.Context, baseURL string, req *model.InvokeRequest) (*model.InvokeResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := strings.TrimSuffix(baseURL, "/") + path

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vals := range req.Headers {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &model.InvokeResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}
