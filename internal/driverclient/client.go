package driverclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
)

// ErrDeliveryNotActive means the server answered 410: the delivery is finished or cancelled.
var ErrDeliveryNotActive = errors.New("delivery is no longer active")

// StatusError is a non-2xx answer from the tracking API.
type StatusError struct {
	Code    int
	Reason  string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracking api: %d %s: %s", e.Code, e.Reason, e.Message)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrDeliveryNotActive && e.Code == http.StatusGone
}

// Transient reports whether retrying the same request later may succeed.
func (e *StatusError) Transient() bool {
	return e.Code >= http.StatusInternalServerError || e.Code == http.StatusTooManyRequests
}

// Client calls the tracking API on behalf of one driver.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) SendLocation(ctx context.Context, deliveryID string, req dto.LocationRequest) (dto.RecordResponse, error) {
	var res dto.RecordResponse
	err := c.do(ctx, http.MethodPost, "/deliveries/"+url.PathEscape(deliveryID)+"/location", req, &res)
	return res, err
}

func (c *Client) Accept(ctx context.Context, deliveryID string) (dto.DeliveryResponse, error) {
	var res dto.DeliveryResponse
	err := c.do(ctx, http.MethodPost, "/deliveries/"+url.PathEscape(deliveryID)+"/accept", nil, &res)
	return res, err
}

func (c *Client) UpdateStatus(ctx context.Context, deliveryID, status string) (dto.DeliveryResponse, error) {
	var res dto.DeliveryResponse
	err := c.do(ctx, http.MethodPost, "/deliveries/"+url.PathEscape(deliveryID)+"/status", dto.StatusRequest{Status: status}, &res)
	return res, err
}

func (c *Client) Available(ctx context.Context, lat, lng, maxDistanceKm float64) ([]dto.AvailableDeliveryResponse, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lng, 'f', -1, 64))
	if maxDistanceKm > 0 {
		q.Set("maxDistance", strconv.FormatFloat(maxDistanceKm, 'f', -1, 64))
	}

	var res []dto.AvailableDeliveryResponse
	err := c.do(ctx, http.MethodGet, "/deliveries/available?"+q.Encode(), nil, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}{}
		_ = json.Unmarshal(data, &apiErr)
		return &StatusError{Code: resp.StatusCode, Reason: apiErr.Reason, Message: apiErr.Error}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshaling response: %w", err)
	}
	return nil
}
