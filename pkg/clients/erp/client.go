package erp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/wagonmaint/internal/config"
	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

const notificationsPath = "/api/notifications"

// ErrUnknownTarget is returned when no endpoint is mapped for a target.
var ErrUnknownTarget = errors.New("unknown target")

// Response is what a target returned for an accepted notification.
type Response struct {
	StatusCode int
	Body       string
}

// DeliveryError is a non-2xx answer from a target.
type DeliveryError struct {
	Target     models.TargetSystem
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s answered HTTP %d: %s", e.Target, e.StatusCode, e.Body)
}

// Client posts webhook notifications to the downstream ERPs.
type Client struct {
	targets map[models.TargetSystem]*resty.Client
}

// NewClient maps both ERPs and any extra target to their configured base URL.
func NewClient(cfg config.ERPConfig) *Client {
	endpoints := map[models.TargetSystem]string{
		models.TargetClientERP:   cfg.WagonLitsURL,
		models.TargetInternalERP: cfg.DevMaterielsURL,
	}
	for name, baseURL := range cfg.ExtraEndpoints {
		endpoints[models.TargetSystem(name)] = baseURL
	}
	return NewClientWithEndpoints(endpoints, cfg.Timeout)
}

// NewClientWithEndpoints builds a client from an explicit target to URL map.
// Targets with an empty URL are left out.
func NewClientWithEndpoints(endpoints map[models.TargetSystem]string, timeout time.Duration) *Client {
	targets := make(map[models.TargetSystem]*resty.Client, len(endpoints))
	for target, baseURL := range endpoints {
		if baseURL == "" {
			continue
		}
		restyClient := resty.New()
		restyClient.
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetHeader("Content-Type", "application/json").
			SetHeader("X-Source-Service", config.ServiceName).
			SetTimeout(timeout)
		targets[target] = restyClient
	}
	return &Client{targets: targets}
}

// Targets lists the targets that have an endpoint, sorted.
func (c *Client) Targets() []models.TargetSystem {
	out := make([]models.TargetSystem, 0, len(c.targets))
	for target := range c.targets {
		out = append(out, target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send posts payload to the target. Any 2xx is success; other codes come back
// as *DeliveryError together with the response.
func (c *Client) Send(ctx context.Context, target models.TargetSystem, payload map[string]any) (Response, error) {
	httpClient, ok := c.targets[target]
	if !ok {
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}

	resp, err := httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(notificationsPath)
	if err != nil {
		return Response{}, fmt.Errorf("post notification to %s: %w", target, err)
	}

	out := Response{StatusCode: resp.StatusCode(), Body: resp.String()}
	if !resp.IsSuccess() {
		return out, &DeliveryError{Target: target, StatusCode: out.StatusCode, Body: out.Body}
	}
	return out, nil
}
