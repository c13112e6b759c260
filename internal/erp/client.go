// Package erp talks to the ERP's OData services: one method per pipeline
// operation, each a single HTTP round trip that returns a normalized result
// plus an Exchange describing what was sent and received.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"go.uber.org/zap"
)

// MaxCapturedPayload bounds request/response bodies kept on an Exchange.
const MaxCapturedPayload = 64 * 1024

// Paths are the OData service roots, relative to the connection's base URL.
type Paths struct {
	SalesOrderService string
	DeliveryService   string
	BillingService    string
	FiscalNoteService string
}

// DefaultPaths returns the standard S/4HANA API service roots.
func DefaultPaths() Paths {
	return Paths{
		SalesOrderService: "/sap/opu/odata/sap/API_SALES_ORDER_SRV",
		DeliveryService:   "/sap/opu/odata/sap/API_OUTBOUND_DELIVERY_SRV;v=0002",
		BillingService:    "/sap/opu/odata/sap/API_BILLING_DOCUMENT_SRV",
		FiscalNoteService: "/sap/opu/odata/sap/API_BR_NFE_DOCUMENT_SRV",
	}
}

// Options tune a Client. Zero values fall back to defaults. Timeout bounds
// every call, including calls made through a supplied HTTPClient.
type Options struct {
	Timeout    time.Duration
	Paths      Paths
	HTTPClient *http.Client
}

// Client is bound to one ERP connection and, after AcquireSession, to one
// session. It is not safe for use by more than one run.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	paths      Paths
	timeout    time.Duration
	session    *Session
}

// Exchange records one round trip for the execution record.
type Exchange struct {
	Endpoint     string
	Method       string
	RequestBody  string
	ResponseBody string
	StatusCode   int
}

// NewClient creates a client for the given connection.
func NewClient(conn models.Connection, opts Options) (*Client, error) {
	if conn.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(conn.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Paths == (Paths{}) {
		opts.Paths = DefaultPaths()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(conn.BaseURL, "/"),
		username:   conn.Username,
		password:   conn.Password,
		paths:      opts.Paths,
		timeout:    opts.Timeout,
	}, nil
}

// request describes one call.
type request struct {
	method   string
	path     string
	body     any
	ifMatch  string
	mutating bool
	headers  map[string]string
}

// response is what do hands back on success.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) do(ctx context.Context, req request) (*response, Exchange, error) {
	ex := Exchange{Endpoint: req.path, Method: req.method}
	log := logger.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return nil, ex, fmt.Errorf("marshaling request body: %w", err)
		}
		ex.RequestBody = truncate(string(raw), MaxCapturedPayload)
		bodyReader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, bodyReader)
	if err != nil {
		return nil, ex, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}
	if req.mutating {
		if c.session == nil {
			return nil, ex, &SessionError{Reason: "no session acquired before a write"}
		}
		httpReq.Header.Set(csrfHeader, c.session.Token)
		httpReq.Header.Set("Cookie", c.session.Cookie)
	}
	if req.ifMatch != "" {
		httpReq.Header.Set("If-Match", req.ifMatch)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Warn("ERP call failed without response",
			zap.String("method", req.method), zap.String("endpoint", req.path), zap.Error(err))
		return nil, ex, &TransportError{Method: req.method, Endpoint: req.path, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	ex.StatusCode = httpResp.StatusCode
	if err != nil {
		return nil, ex, &TransportError{Method: req.method, Endpoint: req.path, Err: fmt.Errorf("reading response body: %w", err)}
	}
	ex.ResponseBody = truncate(string(body), MaxCapturedPayload)

	log.Debug("ERP call",
		zap.String("method", req.method),
		zap.String("endpoint", req.path),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		perr := newProtocolError(httpResp.StatusCode, body)
		if conflict, ok := perr.(*ConflictError); ok {
			conflict.ETag = req.ifMatch
		}
		return nil, ex, perr
	}
	return &response{status: httpResp.StatusCode, header: httpResp.Header, body: body}, ex, nil
}

// odataQuery renders OData system query options. Spaces are encoded as %20,
// which the gateway expects instead of '+'.
func odataQuery(kv ...string) string {
	if len(kv) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(kv[i])
		b.WriteByte('=')
		b.WriteString(strings.ReplaceAll(url.QueryEscape(kv[i+1]), "+", "%20"))
	}
	return b.String()
}

// entityKey renders a string key predicate: ('4500').
func entityKey(id string) string {
	return "('" + url.PathEscape(strings.ReplaceAll(id, "'", "''")) + "')"
}

// unwrap strips the V2 {"d": ...} wrapper.
func unwrap(body []byte) (map[string]any, error) {
	var raw map[string]any
	if err := models.DecodeJSON(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if d, ok := raw["d"].(map[string]any); ok {
		return d, nil
	}
	return raw, nil
}

// firstString finds key on the entity itself or on the first entry of a
// result collection (V2 "results" or V4 "value").
func firstString(entity map[string]any, key string) string {
	if v, ok := entity[key].(string); ok && v != "" {
		return v
	}
	for _, collection := range []string{"results", "value"} {
		if entries := models.Results(entity[collection]); len(entries) > 0 {
			if v, ok := entries[0][key].(string); ok {
				return v
			}
		}
	}
	return ""
}
