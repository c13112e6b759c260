package erp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"go.uber.org/zap"
)

// salesOrderExpand pulls items, header pricing and item pricing in one read.
const salesOrderExpand = "to_Item,to_PricingElement,to_Item/to_PricingElement"

// documentNumber matches ERP document numbers quoted in error texts.
var documentNumber = regexp.MustCompile(`\d{8,10}`)

// EntityTagFetcher reads the current entity tag of a resource.
type EntityTagFetcher func(ctx context.Context, id string) (string, error)

// RefreshEntityTag re-reads the resource right before a conditional write.
// An empty tag means the resource is not versioned.
func RefreshEntityTag(ctx context.Context, fetch EntityTagFetcher, id string) (string, error) {
	tag, err := fetch(ctx, id)
	if err != nil {
		return "", fmt.Errorf("refreshing entity tag for %s: %w", id, err)
	}
	return tag, nil
}

// FetchSalesOrder reads a sales order with its items and pricing.
func (c *Client) FetchSalesOrder(ctx context.Context, id string) (*models.SalesOrder, Exchange, error) {
	path := c.paths.SalesOrderService + "/A_SalesOrder" + entityKey(id) +
		odataQuery("$expand", salesOrderExpand, "$format", "json")
	resp, ex, err := c.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		return nil, ex, err
	}
	order, err := models.DecodeSalesOrder(resp.body)
	if err != nil {
		return nil, ex, err
	}
	return order, ex, nil
}

// CreateSalesOrder posts a deep-insert payload and returns the new document number.
func (c *Client) CreateSalesOrder(ctx context.Context, payload map[string]any) (string, Exchange, error) {
	resp, ex, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     c.paths.SalesOrderService + "/A_SalesOrder",
		body:     payload,
		mutating: true,
	})
	if err != nil {
		return "", ex, err
	}
	entity, err := unwrap(resp.body)
	if err != nil {
		return "", ex, err
	}
	id := firstString(entity, "SalesOrder")
	if id == "" {
		return "", ex, fmt.Errorf("sales order created but response carries no SalesOrder number")
	}
	return id, ex, nil
}

// DeliveryResult is the outcome of CreateDelivery. Recovered marks a delivery
// id read back from an "already exists" error rather than from a create
// response; it is a best-effort guess.
type DeliveryResult struct {
	DeliveryID string
	Recovered  bool
}

// CreateDelivery creates an outbound delivery referencing every item of the order.
func (c *Client) CreateDelivery(ctx context.Context, order *models.SalesOrder) (DeliveryResult, Exchange, error) {
	salesOrderID := order.ID()
	items := make([]map[string]string, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]string{
			"ReferenceSDDocument":     salesOrderID,
			"ReferenceSDDocumentItem": item.Number(),
		})
	}
	payload := map[string]any{
		"to_DeliveryDocumentItem": map[string]any{"results": items},
	}

	resp, ex, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     c.paths.DeliveryService + "/A_OutbDeliveryHeader",
		body:     payload,
		mutating: true,
	})
	if err != nil {
		if id, ok := recoverExistingDelivery(err, salesOrderID); ok {
			logger.FromContext(ctx).Warn("delivery already exists, reusing id parsed from error text",
				zap.String("salesOrder", salesOrderID), zap.String("deliveryId", id))
			return DeliveryResult{DeliveryID: id, Recovered: true}, ex, nil
		}
		return DeliveryResult{}, ex, err
	}

	entity, err := unwrap(resp.body)
	if err != nil {
		return DeliveryResult{}, ex, err
	}
	id := firstString(entity, "DeliveryDocument")
	if id == "" {
		return DeliveryResult{}, ex, fmt.Errorf("delivery created but response carries no DeliveryDocument number")
	}
	return DeliveryResult{DeliveryID: id}, ex, nil
}

// recoverExistingDelivery looks for "already exists" in a rejected create and
// takes the last quoted document number that is not the sales order itself.
func recoverExistingDelivery(err error, salesOrderID string) (string, bool) {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return "", false
	}
	text := strings.ToLower(pe.Message + " " + pe.Body)
	if !strings.Contains(text, "already exist") && !strings.Contains(text, "já existe") {
		return "", false
	}
	matches := documentNumber.FindAllString(pe.Message, -1)
	if len(matches) == 0 {
		matches = documentNumber.FindAllString(pe.Body, -1)
	}
	for i := len(matches) - 1; i >= 0; i-- {
		if strings.TrimLeft(matches[i], "0") != strings.TrimLeft(salesOrderID, "0") {
			return matches[i], true
		}
	}
	return "", false
}

// FetchDeliveryETag reads the delivery header's current entity tag.
func (c *Client) FetchDeliveryETag(ctx context.Context, deliveryID string) (string, error) {
	resp, _, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   c.paths.DeliveryService + "/A_OutbDeliveryHeader" + entityKey(deliveryID) + odataQuery("$format", "json"),
	})
	if err != nil {
		return "", err
	}
	if tag := resp.header.Get("ETag"); tag != "" {
		return tag, nil
	}
	entity, err := unwrap(resp.body)
	if err != nil {
		return "", err
	}
	if meta, ok := entity["__metadata"].(map[string]any); ok {
		if tag, ok := meta["etag"].(string); ok {
			return tag, nil
		}
	}
	return "", nil
}

// PickAllItems confirms picking for every delivery item.
func (c *Client) PickAllItems(ctx context.Context, deliveryID string) (Exchange, error) {
	return c.deliveryAction(ctx, "PickAllItems", deliveryID)
}

// PostGoodsIssue posts the goods movement for a picked delivery.
func (c *Client) PostGoodsIssue(ctx context.Context, deliveryID string) (Exchange, error) {
	return c.deliveryAction(ctx, "PostGoodsIssue", deliveryID)
}

// deliveryAction calls a delivery function import as a conditional write.
// A 412 here means the delivery changed between the tag read and the write.
func (c *Client) deliveryAction(ctx context.Context, action, deliveryID string) (Exchange, error) {
	tag, err := RefreshEntityTag(ctx, c.FetchDeliveryETag, deliveryID)
	if err != nil {
		return Exchange{Endpoint: c.paths.DeliveryService + "/" + action, Method: http.MethodPost}, err
	}
	path := c.paths.DeliveryService + "/" + action + odataQuery("DeliveryDocument", "'"+deliveryID+"'")
	_, ex, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     path,
		ifMatch:  tag,
		mutating: true,
	})
	return ex, err
}

// CreateBillingDocument bills the delivery and returns the billing document number.
func (c *Client) CreateBillingDocument(ctx context.Context, deliveryID string) (string, Exchange, error) {
	payload := map[string]any{
		"SDDocument":         deliveryID,
		"SDDocumentCategory": "J",
	}
	resp, ex, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     c.paths.BillingService + "/CreateFromSDDocument",
		body:     payload,
		mutating: true,
	})
	if err != nil {
		return "", ex, err
	}
	entity, err := unwrap(resp.body)
	if err != nil {
		return "", ex, err
	}
	id := firstString(entity, "BillingDocument")
	if id == "" {
		return "", ex, fmt.Errorf("billing created but response carries no BillingDocument number")
	}
	return id, ex, nil
}

// FetchFiscalNote looks up the fiscal note issued for a billing document.
func (c *Client) FetchFiscalNote(ctx context.Context, billingDocumentID string) (string, Exchange, error) {
	path := c.paths.FiscalNoteService + "/A_BR_NFDocument" + odataQuery(
		"$filter", "BR_NFSourceDocumentNumber eq '"+billingDocumentID+"'",
		"$top", "1",
		"$format", "json",
	)
	resp, ex, err := c.do(ctx, request{method: http.MethodGet, path: path})
	if err != nil {
		return "", ex, err
	}
	entity, err := unwrap(resp.body)
	if err != nil {
		return "", ex, err
	}
	id := firstString(entity, "BR_NotaFiscal")
	if id == "" {
		return "", ex, ErrFiscalNoteNotFound
	}
	return id, ex, nil
}
