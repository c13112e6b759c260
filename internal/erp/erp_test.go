package erp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeERP serves canned responses keyed by "METHOD path".
type fakeERP struct {
	t        *testing.T
	handlers map[string]http.HandlerFunc
	requests []*http.Request
	bodies   []string
}

func newFakeERP(t *testing.T) (*fakeERP, *Client) {
	t.Helper()
	f := &fakeERP{t: t, handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.requests = append(f.requests, r)
		f.bodies = append(f.bodies, string(body))
		h, ok := f.handlers[r.Method+" "+r.URL.Path]
		if !ok {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.String())
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(models.Connection{BaseURL: srv.URL, Username: "user", Password: "secret"}, Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return f, client
}

func (f *fakeERP) on(method, path string, h http.HandlerFunc) {
	f.handlers[method+" "+path] = h
}

func (f *fakeERP) last() *http.Request {
	return f.requests[len(f.requests)-1]
}

func jsonReply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func sessionReply(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(csrfHeader, "tok-123")
	w.Header().Add("Set-Cookie", "SAP_SESSIONID_S4H_100=abc; path=/; HttpOnly")
	w.Header().Add("Set-Cookie", "sap-usercontext=sap-client=100; path=/")
	w.Header().Add("Set-Cookie", "tracking=ignored; path=/")
	w.WriteHeader(http.StatusOK)
}

const (
	soRoot  = "/sap/opu/odata/sap/API_SALES_ORDER_SRV"
	dlvRoot = "/sap/opu/odata/sap/API_OUTBOUND_DELIVERY_SRV;v=0002"
	bilRoot = "/sap/opu/odata/sap/API_BILLING_DOCUMENT_SRV"
	nfeRoot = "/sap/opu/odata/sap/API_BR_NFE_DOCUMENT_SRV"
)

func TestAcquireSession(t *testing.T) {
	t.Run("keeps only session cookies", func(t *testing.T) {
		f, c := newFakeERP(t)
		f.on(http.MethodGet, soRoot+"/", sessionReply)

		s, err := c.AcquireSession(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "tok-123", s.Token)
		assert.Equal(t, "SAP_SESSIONID_S4H_100=abc; sap-usercontext=sap-client=100", s.Cookie)
		assert.Equal(t, "Fetch", f.last().Header.Get(csrfHeader))
		user, pass, ok := f.last().BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "secret", pass)
	})

	t.Run("missing token is a session error", func(t *testing.T) {
		f, c := newFakeERP(t)
		f.on(http.MethodGet, soRoot+"/", jsonReply(http.StatusOK, `{}`))

		_, err := c.AcquireSession(context.Background())
		var se *SessionError
		assert.ErrorAs(t, err, &se)
		assert.Equal(t, "SESSION", ErrorCode(err))
	})

	t.Run("writes without a session are refused locally", func(t *testing.T) {
		_, c := newFakeERP(t)

		_, _, err := c.CreateSalesOrder(context.Background(), map[string]any{"SalesOrderType": "OR"})
		var se *SessionError
		assert.ErrorAs(t, err, &se)
	})
}

func TestFetchSalesOrder(t *testing.T) {
	f, c := newFakeERP(t)
	f.on(http.MethodGet, soRoot+"/A_SalesOrder('4500')", jsonReply(http.StatusOK, `{"d":{
		"SalesOrder":"4500","TotalNetAmount":"100.00",
		"to_PricingElement":{"results":[{"ConditionType":"PR00","ConditionAmount":"100.00"}]},
		"to_Item":{"results":[{"SalesOrderItem":"10","Material":"M-1",
			"to_PricingElement":{"results":[{"ConditionType":"BX10","ConditionRateValue":"18.000"}]}}]}
	}}`))

	order, ex, err := c.FetchSalesOrder(context.Background(), "4500")
	require.NoError(t, err)

	assert.Equal(t, "4500", order.ID())
	require.Len(t, order.Items, 1)
	assert.Equal(t, "10", order.Items[0].Number())
	assert.Len(t, order.Items[0].Pricing, 1)
	assert.Len(t, order.Pricing, 1)
	assert.Equal(t, http.StatusOK, ex.StatusCode)
	assert.Equal(t, http.MethodGet, ex.Method)
	assert.Contains(t, f.last().URL.RawQuery, "$expand=to_Item%2Cto_PricingElement%2Cto_Item%2Fto_PricingElement")
}

func TestCreateSalesOrder(t *testing.T) {
	f, c := newFakeERP(t)
	f.on(http.MethodGet, soRoot+"/", sessionReply)
	f.on(http.MethodPost, soRoot+"/A_SalesOrder", jsonReply(http.StatusCreated, `{"d":{"SalesOrder":"4501"}}`))

	_, err := c.AcquireSession(context.Background())
	require.NoError(t, err)

	id, ex, err := c.CreateSalesOrder(context.Background(), map[string]any{"SalesOrderType": "OR"})
	require.NoError(t, err)

	assert.Equal(t, "4501", id)
	assert.Equal(t, "tok-123", f.last().Header.Get(csrfHeader))
	assert.Contains(t, f.last().Header.Get("Cookie"), "SAP_SESSIONID_S4H_100=abc")
	assert.JSONEq(t, `{"SalesOrderType":"OR"}`, ex.RequestBody)
	assert.Equal(t, http.StatusCreated, ex.StatusCode)
}

func TestCreateDelivery(t *testing.T) {
	order := &models.SalesOrder{
		Header: models.Record{"SalesOrder": "4501"},
		Items: []models.SalesOrderItem{
			{Fields: models.Record{"SalesOrderItem": "10"}},
			{Fields: models.Record{"SalesOrderItem": "20"}},
		},
	}

	t.Run("references every item", func(t *testing.T) {
		f, c := newFakeERP(t)
		f.on(http.MethodGet, soRoot+"/", sessionReply)
		f.on(http.MethodPost, dlvRoot+"/A_OutbDeliveryHeader", jsonReply(http.StatusCreated, `{"d":{"DeliveryDocument":"80000001"}}`))
		_, err := c.AcquireSession(context.Background())
		require.NoError(t, err)

		res, ex, err := c.CreateDelivery(context.Background(), order)
		require.NoError(t, err)

		assert.Equal(t, DeliveryResult{DeliveryID: "80000001"}, res)
		assert.JSONEq(t, `{"to_DeliveryDocumentItem":{"results":[
			{"ReferenceSDDocument":"4501","ReferenceSDDocumentItem":"10"},
			{"ReferenceSDDocument":"4501","ReferenceSDDocumentItem":"20"}]}}`, ex.RequestBody)
	})

	t.Run("already exists is recovered and flagged", func(t *testing.T) {
		f, c := newFakeERP(t)
		f.on(http.MethodGet, soRoot+"/", sessionReply)
		f.on(http.MethodPost, dlvRoot+"/A_OutbDeliveryHeader", jsonReply(http.StatusBadRequest,
			`{"error":{"code":"VL/123","message":{"lang":"en","value":"Delivery 0080000042 already exists for order 0000004501"}}}`))
		_, err := c.AcquireSession(context.Background())
		require.NoError(t, err)

		res, ex, err := c.CreateDelivery(context.Background(), order)
		require.NoError(t, err)

		assert.Equal(t, "0080000042", res.DeliveryID)
		assert.True(t, res.Recovered)
		assert.Equal(t, http.StatusBadRequest, ex.StatusCode)
	})

	t.Run("server error is a protocol error", func(t *testing.T) {
		f, c := newFakeERP(t)
		f.on(http.MethodGet, soRoot+"/", sessionReply)
		f.on(http.MethodPost, dlvRoot+"/A_OutbDeliveryHeader", jsonReply(http.StatusInternalServerError, `boom`))
		_, err := c.AcquireSession(context.Background())
		require.NoError(t, err)

		_, ex, err := c.CreateDelivery(context.Background(), order)
		var pe *ProtocolError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)
		assert.Equal(t, "HTTP_500", ErrorCode(err))
		assert.Equal(t, "boom", ex.ResponseBody)
	})
}

func TestDeliveryActions(t *testing.T) {
	t.Run("sends the refreshed entity tag", func(t *testing.T) {
		f, c := newFakeERP(t)
		f.on(http.MethodGet, soRoot+"/", sessionReply)
		f.on(http.MethodGet, dlvRoot+"/A_OutbDeliveryHeader('80000001')", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("ETag", `W/"datetime'2026-01-01T10%3A00%3A00'"`)
			jsonReply(http.StatusOK, `{"d":{"DeliveryDocument":"80000001"}}`)(w, r)
		})
		f.on(http.MethodPost, dlvRoot+"/PickAllItems", jsonReply(http.StatusOK, `{"d":{}}`))
		f.on(http.MethodPost, dlvRoot+"/PostGoodsIssue", jsonReply(http.StatusOK, `{"d":{}}`))
		_, err := c.AcquireSession(context.Background())
		require.NoError(t, err)

		_, err = c.PickAllItems(context.Background(), "80000001")
		require.NoError(t, err)
		assert.Equal(t, `W/"datetime'2026-01-01T10%3A00%3A00'"`, f.last().Header.Get("If-Match"))
		assert.Equal(t, "DeliveryDocument=%2780000001%27", f.last().URL.RawQuery)

		_, err = c.PostGoodsIssue(context.Background(), "80000001")
		require.NoError(t, err)
		assert.Equal(t, "/sap/opu/odata/sap/API_OUTBOUND_DELIVERY_SRV;v=0002/PostGoodsIssue", f.last().URL.Path)
	})

	t.Run("falls back to the metadata tag", func(t *testing.T) {
		f, c := newFakeERP(t)
		f.on(http.MethodGet, dlvRoot+"/A_OutbDeliveryHeader('80000001')",
			jsonReply(http.StatusOK, `{"d":{"__metadata":{"etag":"W/\"v2\""}}}`))

		tag, err := c.FetchDeliveryETag(context.Background(), "80000001")
		require.NoError(t, err)
		assert.Equal(t, `W/"v2"`, tag)
	})

	t.Run("precondition failed is a conflict", func(t *testing.T) {
		f, c := newFakeERP(t)
		f.on(http.MethodGet, soRoot+"/", sessionReply)
		f.on(http.MethodGet, dlvRoot+"/A_OutbDeliveryHeader('80000001')", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("ETag", `W/"v1"`)
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, `{"d":{}}`)
		})
		f.on(http.MethodPost, dlvRoot+"/PostGoodsIssue", jsonReply(http.StatusPreconditionFailed,
			`{"error":{"code":"/IWBEP/CM_MGW_RT/020","message":{"value":"Entity has been modified"}}}`))
		_, err := c.AcquireSession(context.Background())
		require.NoError(t, err)

		_, err = c.PostGoodsIssue(context.Background(), "80000001")
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, `W/"v1"`, conflict.ETag)
		assert.Equal(t, "Entity has been modified", conflict.Message)
		assert.Equal(t, "PRECONDITION_FAILED", ErrorCode(err))
	})
}

func TestCreateBillingDocument(t *testing.T) {
	f, c := newFakeERP(t)
	f.on(http.MethodGet, soRoot+"/", sessionReply)
	f.on(http.MethodPost, bilRoot+"/CreateFromSDDocument", jsonReply(http.StatusOK, `{"d":{"results":[{"BillingDocument":"90000007"}]}}`))
	_, err := c.AcquireSession(context.Background())
	require.NoError(t, err)

	id, ex, err := c.CreateBillingDocument(context.Background(), "80000001")
	require.NoError(t, err)

	assert.Equal(t, "90000007", id)
	assert.JSONEq(t, `{"SDDocument":"80000001","SDDocumentCategory":"J"}`, ex.RequestBody)
}

func TestFetchFiscalNote(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		f, c := newFakeERP(t)
		f.on(http.MethodGet, nfeRoot+"/A_BR_NFDocument", jsonReply(http.StatusOK, `{"d":{"results":[{"BR_NotaFiscal":"000123"}]}}`))

		id, _, err := c.FetchFiscalNote(context.Background(), "90000007")
		require.NoError(t, err)

		assert.Equal(t, "000123", id)
		assert.Equal(t, "$filter=BR_NFSourceDocumentNumber%20eq%20%2790000007%27&$top=1&$format=json", f.last().URL.RawQuery)
	})

	t.Run("not issued yet", func(t *testing.T) {
		f, c := newFakeERP(t)
		f.on(http.MethodGet, nfeRoot+"/A_BR_NFDocument", jsonReply(http.StatusOK, `{"d":{"results":[]}}`))

		_, _, err := c.FetchFiscalNote(context.Background(), "90000007")
		assert.ErrorIs(t, err, ErrFiscalNoteNotFound)
		assert.Equal(t, "NFE_NOT_FOUND", ErrorCode(err))
	})
}

func TestTransportFailure(t *testing.T) {
	c, err := NewClient(models.Connection{BaseURL: "http://127.0.0.1:1"}, Options{Timeout: time.Second})
	require.NoError(t, err)

	_, _, err = c.FetchSalesOrder(context.Background(), "4500")
	var te *TransportError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, "TRANSPORT", ErrorCode(err))
}

func TestNewProtocolError(t *testing.T) {
	t.Run("V4 envelope", func(t *testing.T) {
		err := newProtocolError(http.StatusBadRequest, []byte(`{"error":{"code":"SD/1","message":"bad item"}}`))
		var pe *ProtocolError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "SD/1", pe.Code)
		assert.Equal(t, "bad item", pe.Message)
	})

	t.Run("body is bounded", func(t *testing.T) {
		err := newProtocolError(http.StatusBadGateway, []byte(strings.Repeat("x", MaxErrorBodyLength+50)))
		var pe *ProtocolError
		require.True(t, errors.As(err, &pe))
		assert.Len(t, pe.Body, MaxErrorBodyLength)
		assert.True(t, strings.HasSuffix(pe.Body, "…"))
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "fits", in: "abc", max: 3, want: "abc"},
		{name: "cut with ellipsis", in: "abcdefgh", max: 6, want: "abc…"},
		{name: "does not split a rune", in: "aãããã", max: 7, want: "aã…"},
		{name: "too small for ellipsis", in: "abcdef", max: 2, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), tt.max)
		})
	}
}

func TestCapturedPayloadIsBounded(t *testing.T) {
	f, c := newFakeERP(t)
	big := `{"d":{"SalesOrder":"4500","Note":"` + strings.Repeat("x", MaxCapturedPayload) + `"}}`
	f.on(http.MethodGet, soRoot+"/A_SalesOrder('4500')", jsonReply(http.StatusOK, big))

	_, ex, err := c.FetchSalesOrder(context.Background(), "4500")
	require.NoError(t, err)
	assert.Len(t, ex.ResponseBody, MaxCapturedPayload)
}

func TestSuppliedHTTPClientGetsCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(models.Connection{BaseURL: srv.URL}, Options{Timeout: 50 * time.Millisecond, HTTPClient: &http.Client{}})
	require.NoError(t, err)

	start := time.Now()
	_, _, err = c.FetchSalesOrder(context.Background(), "4500")
	var te *TransportError
	assert.ErrorAs(t, err, &te)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRecoverExistingDelivery(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		wantID string
		wantOK bool
	}{
		{
			name:   "single delivery number",
			err:    &ProtocolError{StatusCode: 400, Message: "Delivery 80000042 already exists"},
			wantID: "80000042",
			wantOK: true,
		},
		{
			name:   "skips the sales order number",
			err:    &ProtocolError{StatusCode: 400, Message: "Document 80000042 already exists for 0045010000"},
			wantID: "80000042",
			wantOK: true,
		},
		{
			name: "no phrase",
			err:  &ProtocolError{StatusCode: 400, Message: "Delivery 80000042 is blocked"},
		},
		{
			name: "only the order number",
			err:  &ProtocolError{StatusCode: 400, Message: "Delivery already exists for 0045010000"},
		},
		{
			name: "not a protocol error",
			err:  errors.New("already exists 80000042"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := recoverExistingDelivery(tt.err, "45010000")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestOdataQuery(t *testing.T) {
	assert.Equal(t, "", odataQuery())
	assert.Equal(t, "?$filter=A%20eq%20%27x%27&$top=1", odataQuery("$filter", "A eq 'x'", "$top", "1"))
}
