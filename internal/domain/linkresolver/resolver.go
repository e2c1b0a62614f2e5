package linkresolver

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketnotify/internal/domain/notification"
	"marketnotify/internal/pkg/jwt"
)

// Role is the viewer role at click time.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

func (r Role) isBuyer() bool {
	return r == RoleBuyer || r == RoleUser
}

const (
	PathStore         = "/store"
	PathLogin         = "/login"
	PathProduct       = "/product/"
	PathSellerProduct = "/seller/products"
	PathBuyerOrders   = "/buyer/orders"
	PathSellerOrders  = "/seller/orders"

	SeverityWarning = "warning"
	SeverityInfo    = "info"

	lowStockThreshold = 5
	searchTimeout     = 5 * time.Second
)

// Product is a product search hit.
type Product struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
}

// ProductSearcher finds products by title for the availability fallback.
type ProductSearcher interface {
	SearchProducts(ctx context.Context, query string) ([]Product, error)
}

// Param is one query parameter. Order is preserved in the encoded query.
type Param struct {
	Key   string
	Value string
}

// Target is where a notification leads.
type Target struct {
	Path      string
	Params    []Param
	RelatedID string
	// Fragment is a short hex reference from the message, display only.
	Fragment  string
}

// Query encodes the parameters in order, without a leading "?".
func (t Target) Query() string {
	parts := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		parts = append(parts, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	return strings.Join(parts, "&")
}

// URL joins path and query.
func (t Target) URL() string {
	if q := t.Query(); q != "" {
		return t.Path + "?" + q
	}
	return t.Path
}

// Navigation is the final click destination.
type Navigation struct {
	Target        Target
	URL           string
	LoginRequired bool
	// MarkRead tells the caller whether the click may mark the record read.
	MarkRead      bool
}

// Resolver maps notifications to in-app destinations.
type Resolver struct {
	search ProductSearcher
	logger *zap.Logger
}

// New returns a resolver. search may be nil, which disables the title
// fallback.
func New(search ProductSearcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{search: search, logger: logger}
}

// Resolve never fails. Without a resolvable id it degrades to the type's
// default surface.
func (r *Resolver) Resolve(ctx context.Context, rec *notification.Record, role Role) Target {
	if rec == nil {
		return Target{Path: PathStore}
	}

	id := r.relatedID(ctx, rec, role)
	t := Target{RelatedID: id, Fragment: HexFragment(rec.Message)}

	switch rec.Type {
	case notification.TypeProductAvailable:
		if id == "" {
			t.Path = PathStore
			return t
		}
		t.Path = PathProduct + url.PathEscape(id)

	case notification.TypeProduct:
		t.Path = PathSellerProduct
		t.Params = append(t.Params, Param{Key: "open", Value: "stockAlerts"})
		if id != "" {
			t.Params = append(t.Params, Param{Key: "highlight", Value: id})
		}
		t.Params = append(t.Params, Param{Key: "severity", Value: Severity(rec)})

	case notification.TypeOrder:
		if role.isBuyer() {
			t.Path = PathBuyerOrders
		} else {
			t.Path = PathSellerOrders
		}
		if id != "" && !strings.HasPrefix(t.Path, PathProduct) {
			t.Params = append(t.Params, Param{Key: "highlight", Value: id})
		}

	default:
		return Target{Path: PathStore, Fragment: t.Fragment}
	}

	return t
}

// Destination resolves rec and wraps the result in a login redirect when the
// session token is missing, malformed or expired at now.
func (r *Resolver) Destination(ctx context.Context, rec *notification.Record, role Role, token string, now time.Time) Navigation {
	t := r.Resolve(ctx, rec, role)
	if jwt.SessionValid(token, now) {
		return Navigation{Target: t, URL: t.URL(), MarkRead: true}
	}
	return Navigation{
		Target:        t,
		URL:           LoginURL(t.URL()),
		LoginRequired: true,
	}
}

// LoginURL returns the login page carrying target as the redirect.
func LoginURL(target string) string {
	return PathLogin + "?redirect=" + url.QueryEscape(target)
}

func (r *Resolver) relatedID(ctx context.Context, rec *notification.Record, role Role) string {
	if id := ExtractRelatedID(rec); id != "" {
		return id
	}
	if id := ScanObjectID(docOf(rec), DefaultExclusions(rec)); id != "" {
		return id
	}
	if rec.Type == notification.TypeProductAvailable && role.isBuyer() {
		return r.searchByTitle(ctx, rec.Message)
	}
	return ""
}

func (r *Resolver) searchByTitle(ctx context.Context, message string) string {
	if r.search == nil {
		return ""
	}
	title := ExtractTitle(message)
	if title == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	products, err := r.search.SearchProducts(ctx, title)
	if err != nil {
		r.logger.Warn("product search fallback failed", zap.String("title", title), zap.Error(err))
		return ""
	}
	for _, p := range products {
		if id := notification.NormalizeRef(p.ID); id != "" {
			return id
		}
	}
	return ""
}

// Severity grades a stock alert from the first numeric quantity or stock
// field. Missing values are a warning.
func Severity(rec *notification.Record) string {
	v := stockLevel(rec)
	if v == nil || *v < lowStockThreshold {
		return SeverityWarning
	}
	return SeverityInfo
}

func stockLevel(rec *notification.Record) *float64 {
	var candidates []*float64
	if d := rec.Data; d != nil {
		candidates = append(candidates, d.Quantity, d.Stock)
		if d.Product != nil {
			candidates = append(candidates, d.Product.Quantity, d.Product.Stock)
		}
	}
	if m := rec.Meta; m != nil {
		candidates = append(candidates, m.Quantity, m.Stock)
	}
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

// docOf returns the raw document for scanning. Records built in code carry no
// Doc, so their encoded form is used.
func docOf(rec *notification.Record) any {
	if rec.Doc != nil {
		return rec.Doc
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil
	}
	return doc
}
