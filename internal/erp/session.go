package erp

import (
	"context"
	"net/http"
	"strings"

	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"go.uber.org/zap"
)

const csrfHeader = "X-CSRF-Token"

// sessionCookiePrefixes are the cookies that tie a write to the session the
// anti-forgery token was issued for. Everything else is dropped.
var sessionCookiePrefixes = []string{
	"SAP_SESSIONID_",
	"sap-usercontext",
	"MYSAPSSO2",
	"sap-XSRF_",
	"__VCAP_ID__",
	"JSESSIONID",
}

// Session is the anti-forgery token plus the cookie header it is bound to.
type Session struct {
	Token  string
	Cookie string
}

// AcquireSession fetches an anti-forgery token and the session cookies from
// the sales order service root. Every write on this client reuses them.
func (c *Client) AcquireSession(ctx context.Context) (*Session, error) {
	resp, _, err := c.do(ctx, request{
		method:  http.MethodGet,
		path:    c.paths.SalesOrderService + "/",
		headers: map[string]string{csrfHeader: "Fetch"},
	})
	if err != nil {
		return nil, &SessionError{Reason: "token fetch failed", Err: err}
	}

	token := resp.header.Get(csrfHeader)
	if token == "" || strings.EqualFold(token, "Required") {
		return nil, &SessionError{Reason: "no anti-forgery token in response"}
	}

	cookie := sessionCookie(resp.header.Values("Set-Cookie"))
	if cookie == "" {
		return nil, &SessionError{Reason: "token issued without session cookies"}
	}

	c.session = &Session{Token: token, Cookie: cookie}
	logger.FromContext(ctx).Debug("ERP session acquired", zap.Int("cookieLength", len(cookie)))
	return c.session, nil
}

// Session returns the current session, or nil before AcquireSession.
func (c *Client) Session() *Session {
	return c.session
}

// sessionCookie keeps the name=value pairs of session cookies and joins
// them into a single Cookie header.
func sessionCookie(setCookies []string) string {
	var pairs []string
	for _, sc := range setCookies {
		pair, _, _ := strings.Cut(sc, ";")
		pair = strings.TrimSpace(pair)
		name, _, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if isSessionCookie(name) {
			pairs = append(pairs, pair)
		}
	}
	return strings.Join(pairs, "; ")
}

func isSessionCookie(name string) bool {
	for _, prefix := range sessionCookiePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
