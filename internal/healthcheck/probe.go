package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Probe checks one dependency
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

type funcProbe struct {
	name string
	fn   func(ctx context.Context) error
}

func (p funcProbe) Name() string                    { return p.name }
func (p funcProbe) Check(ctx context.Context) error { return p.fn(ctx) }

// ProbeFunc adapts a ping function, e.g. a store's or database's Ping
func ProbeFunc(name string, fn func(ctx context.Context) error) Probe {
	return funcProbe{name: name, fn: fn}
}

type httpProbe struct {
	target string
	url    string
	client *http.Client
}

// HTTPProbe treats 2xx and 3xx from target+endpoint as healthy. The probe is named after target.
func HTTPProbe(target, endpoint string, client *http.Client) Probe {
	if client == nil {
		client = http.DefaultClient
	}
	return httpProbe{
		target: target,
		url:    strings.TrimRight(target, "/") + endpoint,
		client: client,
	}
}

func (p httpProbe) Name() string { return p.target }

func (p httpProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
