package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/store"
)

const (
	defaultRefundReason = "Agent initiated refund"
	defaultSearchLimit  = 3
	maxFetchBody        = 1 << 20
)

// builtins holds the handlers of one user's tool set.
type builtins struct {
	tb   *Toolbox
	user *domain.User
}

type ordersReadArgs struct{}

func (*ordersReadArgs) validate() error { return nil }

func (b *builtins) ordersRead(ctx context.Context, _ *ordersReadArgs) (any, error) {
	orders, err := b.tb.repo.ListOrders(ctx, b.user.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"orders": orders}, nil
}

type ordersRefundArgs struct {
	OrderID looseInt `json:"order_id"`
	Reason  string   `json:"reason"`
}

func (a *ordersRefundArgs) validate() error {
	if a.OrderID == 0 {
		return errRequired("order_id")
	}
	if a.Reason == "" {
		a.Reason = defaultRefundReason
	}
	return nil
}

// ordersRefund refunds the order in full. It never asks for confirmation.
func (b *builtins) ordersRefund(ctx context.Context, args *ordersRefundArgs) (any, error) {
	orderID := int64(args.OrderID)
	order, err := b.tb.repo.GetOrder(ctx, b.user.ID, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, errors.New("Order not found")
	}
	if err := b.tb.repo.RefundOrder(ctx, orderID, order.TotalCents, args.Reason); err != nil {
		return nil, err
	}
	return map[string]any{"status": domain.OrderRefunded, "order_id": orderID}, nil
}

type orderLineArgs struct {
	ProductID looseInt  `json:"product_id"`
	VariantID *looseInt `json:"variant_id"`
	Qty       looseInt  `json:"qty"`
}

type ordersWriteArgs struct {
	Items []orderLineArgs `json:"items"`
}

func (a *ordersWriteArgs) validate() error {
	if len(a.Items) == 0 {
		return errRequired("items array")
	}
	return nil
}

// ordersWrite places a completed, auto-paid order without touching the cart or stock.
func (b *builtins) ordersWrite(ctx context.Context, args *ordersWriteArgs) (any, error) {
	order := store.NewOrder{
		UserID:        b.user.ID,
		Status:        domain.OrderCompleted,
		PaymentStatus: domain.PaymentCaptured,
		CardLast4:     strPtr("9999"),
		TxnRef:        strPtr("AUTO-LLM"),
	}
	for _, item := range args.Items {
		unit, variantID, err := b.unitPrice(ctx, int64(item.ProductID), item.VariantID.ptr(), "Product not found", "Variant not found")
		if err != nil {
			return nil, err
		}
		qty := int64(item.Qty)
		if qty <= 0 {
			qty = 1
		}
		order.Lines = append(order.Lines, domain.NewOrderLine{
			ProductID: int64(item.ProductID),
			VariantID: variantID,
			Qty:       qty,
			LineCents: unit * qty,
		})
	}
	orderID, err := b.tb.repo.CreateOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	return map[string]any{"order_id": orderID, "total_cents": order.Total()}, nil
}

// unitPrice resolves a product (and optional variant) to its unit price. The
// variant is looked up by id alone, so any variant's delta can be applied to
// any product.
func (b *builtins) unitPrice(ctx context.Context, productID int64, variantID *int64, productMissing, variantMissing string) (int64, *int64, error) {
	product, err := b.tb.repo.GetProduct(ctx, productID)
	if err != nil {
		return 0, nil, err
	}
	if product == nil {
		return 0, nil, errors.New(productMissing)
	}
	if variantID == nil {
		return product.UnitPrice(nil), nil, nil
	}
	variant, err := b.tb.repo.GetVariantByID(ctx, *variantID)
	if err != nil {
		return 0, nil, err
	}
	if variant == nil {
		return 0, nil, errors.New(variantMissing)
	}
	return product.UnitPrice(variant), variantID, nil
}

type cartWriteArgs struct {
	Action     string    `json:"action"`
	ProductID  looseInt  `json:"product_id"`
	VariantID  *looseInt `json:"variant_id"`
	Qty        *looseInt `json:"qty"`
	CartItemID looseInt  `json:"cart_item_id"`
}

func (a *cartWriteArgs) validate() error {
	switch a.Action {
	case "add":
		if a.ProductID == 0 {
			return errRequired("product_id")
		}
	case "remove":
		if a.CartItemID == 0 {
			return errRequired("cart_item_id")
		}
	case "clear":
	default:
		return errors.New("Unsupported action")
	}
	return nil
}

func (b *builtins) cartWrite(ctx context.Context, args *cartWriteArgs) (any, error) {
	cart, err := b.tb.repo.GetOrCreateCart(ctx, b.user.ID)
	if err != nil {
		return nil, err
	}

	switch args.Action {
	case "add":
		unit, variantID, err := b.unitPrice(ctx, int64(args.ProductID), args.VariantID.ptr(), "product not found", "variant not found")
		if err != nil {
			return nil, err
		}
		qty := int64(1)
		if args.Qty != nil {
			qty = int64(*args.Qty)
		}
		item := &domain.CartItem{
			CartID:             cart.ID,
			ProductID:          int64(args.ProductID),
			VariantID:          variantID,
			Qty:                qty,
			PriceCentsSnapshot: unit * qty,
		}
		if err := b.tb.repo.AddCartItem(ctx, item); err != nil {
			return nil, err
		}
		return map[string]any{"cart_item_id": item.ID}, nil
	case "remove":
		if _, err := b.tb.repo.RemoveCartItem(ctx, cart.ID, int64(args.CartItemID)); err != nil {
			return nil, err
		}
		return map[string]any{"removed": int64(args.CartItemID)}, nil
	default:
		if err := b.tb.repo.ClearCart(ctx, cart.ID); err != nil {
			return nil, err
		}
		return map[string]any{"cleared": true}, nil
	}
}

type profileWriteArgs struct {
	domain.AddressPatch
}

func (*profileWriteArgs) validate() error { return nil }

// profileWrite overwrites the address; omitted fields keep their stored value.
func (b *builtins) profileWrite(ctx context.Context, args *profileWriteArgs) (any, error) {
	existing, err := b.tb.repo.GetAddress(ctx, b.user.ID)
	if err != nil {
		return nil, err
	}
	base := domain.PlaceholderAddress(b.user.ID)
	if existing != nil {
		base = *existing
	}
	next := args.AddressPatch.Apply(base)
	if err := b.tb.repo.UpsertAddress(ctx, &next); err != nil {
		return nil, err
	}
	return map[string]any{"address": next}, nil
}

type authWriteArgs struct {
	NewPassword string `json:"new_password"`
}

func (a *authWriteArgs) validate() error {
	if a.NewPassword == "" {
		return errRequired("new_password")
	}
	return nil
}

// authWrite replaces the password without asking for the current one.
func (b *builtins) authWrite(ctx context.Context, args *authWriteArgs) (any, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(args.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := b.tb.repo.UpdatePassword(ctx, b.user.ID, string(hash)); err != nil {
		return nil, err
	}
	return map[string]any{"status": "password-updated-insecurely"}, nil
}

type ragSearchArgs struct {
	Query string   `json:"query"`
	Limit looseInt `json:"limit"`
}

func (a *ragSearchArgs) validate() error {
	if strings.TrimSpace(a.Query) == "" {
		return errRequired("query")
	}
	if a.Limit <= 0 {
		a.Limit = defaultSearchLimit
	}
	return nil
}

// ragSearch returns matching chunks with their text untouched.
func (b *builtins) ragSearch(ctx context.Context, args *ragSearchArgs) (any, error) {
	chunks, err := b.tb.repo.SearchChunks(ctx, args.Query, int(args.Limit))
	if err != nil {
		return nil, err
	}
	return ragSearchResult{Chunks: chunks}, nil
}

// ragSearchResult is typed so the loop can inspect retrieved chunks.
type ragSearchResult struct {
	Chunks []domain.Chunk `json:"chunks"`
}

type sqlQueryArgs struct {
	SQL string `json:"sql"`
}

func (a *sqlQueryArgs) validate() error {
	if strings.TrimSpace(a.SQL) == "" {
		return errRequired("sql")
	}
	return nil
}

// sqlQuery runs the statement verbatim against the shop database.
func (b *builtins) sqlQuery(ctx context.Context, args *sqlQueryArgs) (any, error) {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(args.SQL)), "select") {
		rows, err := b.tb.repo.RawQuery(ctx, args.SQL)
		if err != nil {
			return nil, err
		}
		return map[string]any{"rows": rows}, nil
	}
	info, err := b.tb.repo.RawExec(ctx, args.SQL)
	if err != nil {
		return nil, err
	}
	return map[string]any{"info": info}, nil
}

type fsReadArgs struct {
	Path string `json:"path"`
}

func (a *fsReadArgs) validate() error {
	if a.Path == "" {
		return errRequired("path")
	}
	return nil
}

func (b *builtins) fsRead(_ context.Context, args *fsReadArgs) (any, error) {
	target, err := b.tb.resolvePath(args.Path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, err
	}
	return map[string]any{"path": target, "content": string(data)}, nil
}

type fsWriteArgs struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}

func (a *fsWriteArgs) validate() error {
	if a.Path == "" {
		return errRequired("path")
	}
	if a.Content == nil {
		return errRequired("content")
	}
	return nil
}

func (b *builtins) fsWrite(_ context.Context, args *fsWriteArgs) (any, error) {
	target, err := b.tb.resolvePath(args.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(target, []byte(*args.Content), 0644); err != nil {
		return nil, err
	}
	return map[string]any{"path": target, "bytes": len(*args.Content)}, nil
}

// resolvePath joins rel onto the file root and rejects results outside it.
// The check is a plain string prefix test, so a sibling such as
// "<root>-other" passes.
func (tb *Toolbox) resolvePath(rel string) (string, error) {
	root, err := filepath.Abs(tb.fileRoot)
	if err != nil {
		return "", err
	}
	target := rel
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, rel)
	}
	target = filepath.Clean(target)
	if !strings.HasPrefix(target, root) {
		return "", errors.New("Path escapes allowed directory")
	}
	return target, nil
}

type httpFetchArgs struct {
	URL string `json:"url"`
}

func (a *httpFetchArgs) validate() error {
	if a.URL == "" {
		return errRequired("url")
	}
	return nil
}

// httpFetch GETs any URL the model names.
func (b *builtins) httpFetch(ctx context.Context, args *httpFetchArgs) (any, error) {
	req, err := httpGet(ctx, args.URL)
	if err != nil {
		return nil, err
	}
	resp, err := b.tb.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, err
	}
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	return map[string]any{"status": resp.StatusCode, "headers": headers, "text": string(body)}, nil
}

func strPtr(s string) *string { return &s }
