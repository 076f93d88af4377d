// Package rtkapi is a client for the RTK broadcast OpenAPI that serves CORS
// station inventory, connection state and online user data. All requests are
// signed with an HMAC over the X-* headers.
package rtkapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/vietrtk/corsmon/internal/types"
	"github.com/vietrtk/corsmon/pkg/config"
)

const (
	uriOnlineUsers = "/openapi/broadcast/online-users"
	uriStationList = "/openapi/stream/stations"
	uriDynamicInfo = "/openapi/stream/stations/dynamic-info"

	// Wire values for station connect status.
	connectOnline  = 1
	connectNoData  = 2
	connectOffline = 3

	// RTK solution status of a rover user; 4 means a fixed solution.
	solutionFixed = 4
)

// FetchError indicates the remote source was unreachable or returned an
// invalid payload. The scheduler retries on the next tick, never immediately.
type FetchError struct {
	URI string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StationRecord is one station joined from the station list and its dynamic
// connection info, with the wire status already normalized.
type StationRecord struct {
	RemoteID int64
	Code     string
	Name     string
	Status   types.Status
}

// UserRecord is one connected rover user from the online-users endpoint.
type UserRecord struct {
	StationCode string
	Fixed       bool
}

// Client is an HMAC-signing HTTP client for the broadcast OpenAPI.
type Client struct {
	baseURL    string
	accessKey  string
	secretKey  string
	signMethod string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a client from the API configuration.
func NewClient(cfg config.APIConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		accessKey:  cfg.AccessKey,
		secretKey:  cfg.SecretKey,
		signMethod: cfg.SignMethod,
		httpClient: &http.Client{Timeout: cfg.Timeout.D()},
		now:        time.Now,
	}
}

// envelope is the common response wrapper of every endpoint.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, method, uri, query string, body interface{}) (json.RawMessage, error) {
	xHeaders := map[string]string{
		"X-Nonce":       uuid.New().String(),
		"X-Access-Key":  c.accessKey,
		"X-Sign-Method": c.signMethod,
		"X-Timestamp":   strconv.FormatInt(c.now().UnixMilli(), 10),
	}
	sign := calcSign(c.secretKey, method, uri, xHeaders)

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &FetchError{URI: uri, Err: err}
		}
		reqBody = bytes.NewReader(payload)
	}

	url := c.baseURL + uri
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, &FetchError{URI: uri, Err: err}
	}
	for k, v := range xHeaders {
		req.Header.Set(k, v)
	}
	req.Header.Set("Sign", sign)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "en-US")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{URI: uri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URI: uri, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URI: uri, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		return nil, &FetchError{URI: uri, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if env.Code != "SUCCESS" {
		return nil, &FetchError{URI: uri, Err: fmt.Errorf("server answered code=%s msg=%s", env.Code, env.Msg)}
	}
	return env.Data, nil
}

// FetchStationStatus retrieves the station inventory and joins it with the
// per-station dynamic connection info. Records with a missing or unrecognized
// connect status are normalized to StatusUnknown rather than dropped: the
// absence of data is itself informative.
func (c *Client) FetchStationStatus(ctx context.Context) ([]StationRecord, error) {
	var list struct {
		Records []struct {
			ID                 int64  `json:"id"`
			StationName        string `json:"stationName"`
			IdentificationName string `json:"identificationName"`
		} `json:"records"`
	}
	data, err := c.call(ctx, http.MethodGet, uriStationList, "page=1&size=50&count=true", nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, &FetchError{URI: uriStationList, Err: fmt.Errorf("decoding station list: %w", err)}
	}
	if len(list.Records) == 0 {
		return nil, &FetchError{URI: uriStationList, Err: fmt.Errorf("station list is empty")}
	}

	ids := make([]int64, 0, len(list.Records))
	byID := make(map[int64]StationRecord, len(list.Records))
	for _, rec := range list.Records {
		ids = append(ids, rec.ID)
		byID[rec.ID] = StationRecord{
			RemoteID: rec.ID,
			Code:     rec.StationName,
			Name:     rec.IdentificationName,
			Status:   types.StatusUnknown,
		}
	}

	var dynamic []struct {
		StationID     int64 `json:"stationId"`
		ConnectStatus *int  `json:"connectStatus"`
	}
	data, err = c.call(ctx, http.MethodPost, uriDynamicInfo, "", map[string][]int64{"ids": ids})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &dynamic); err != nil {
		return nil, &FetchError{URI: uriDynamicInfo, Err: fmt.Errorf("decoding dynamic info: %w", err)}
	}

	for _, d := range dynamic {
		rec, ok := byID[d.StationID]
		if !ok {
			continue
		}
		rec.Status = normalizeConnectStatus(d.ConnectStatus)
		byID[d.StationID] = rec
	}

	out := make([]StationRecord, 0, len(list.Records))
	for _, rec := range list.Records {
		out = append(out, byID[rec.ID])
	}
	return out, nil
}

// FetchOnlineUsers retrieves the currently connected rover users and the
// station each one is pulling corrections from.
func (c *Client) FetchOnlineUsers(ctx context.Context) ([]UserRecord, error) {
	data, err := c.call(ctx, http.MethodGet, uriOnlineUsers, "page=1&size=50", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Records []struct {
			MasterStationName string `json:"masterStationName"`
			Status            *int   `json:"status"`
		} `json:"records"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &FetchError{URI: uriOnlineUsers, Err: fmt.Errorf("decoding online users: %w", err)}
	}

	out := make([]UserRecord, 0, len(payload.Records))
	for _, rec := range payload.Records {
		if rec.MasterStationName == "" {
			continue
		}
		out = append(out, UserRecord{
			StationCode: rec.MasterStationName,
			Fixed:       rec.Status != nil && *rec.Status == solutionFixed,
		})
	}
	return out, nil
}

// normalizeConnectStatus maps the wire connect status onto the three
// monitored statuses. The "not pushing data" state and anything unrecognized
// both land on unknown.
func normalizeConnectStatus(status *int) types.Status {
	if status == nil {
		return types.StatusUnknown
	}
	switch *status {
	case connectOnline:
		return types.StatusOnline
	case connectOffline:
		return types.StatusOffline
	default:
		return types.StatusUnknown
	}
}
