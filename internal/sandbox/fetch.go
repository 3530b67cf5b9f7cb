package sandbox

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dop251/goja"
)

// fetchOptions mirrors the subset of RequestInit plugins actually use.
type fetchOptions struct {
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// fetchResponse is the settled result handed back to plugin code.
type fetchResponse struct {
	status     int
	statusText string
	headers    map[string]string
	body       []byte
}

// fetcher performs outbound HTTP requests on behalf of sandboxed plugins.
// Only http and https targets are allowed and response bodies are capped.
type fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

func (f *fetcher) do(url string, opts fetchOptions) (*fetchResponse, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("unsupported URL scheme in %q", url)
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range opts.Headers {
		// The host controls the user agent, not the plugin.
		if strings.EqualFold(k, "User-Agent") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("response exceeds %d byte limit", f.maxBytes)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}

	return &fetchResponse{
		status:     resp.StatusCode,
		statusText: resp.Status,
		headers:    headers,
		body:       data,
	}, nil
}

// toJS shapes the response like the fetch API surface plugins expect:
// status, ok, headers, and text()/json() accessors.
func (r *fetchResponse) toJS(vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set("status", r.status)
	_ = obj.Set("statusText", r.statusText)
	_ = obj.Set("ok", r.status >= 200 && r.status < 300)
	_ = obj.Set("headers", r.headers)

	_ = obj.Set("text", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(string(r.body))
	})

	_ = obj.Set("json", func(goja.FunctionCall) goja.Value {
		var parsed any
		if err := json.Unmarshal(r.body, &parsed); err != nil {
			panic(vm.ToValue("json: " + err.Error()))
		}
		return vm.ToValue(parsed)
	})

	return obj
}
