package devserver

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"marketnotify/internal/pkg/utils"
)

// Seeded account emails.
const (
	BuyerEmail  = "buyer@market.local"
	SellerEmail = "seller@market.local"
	AdminEmail  = "admin@market.local"
)

// SeedResult holds the ids created by Seed.
type SeedResult struct {
	Buyer    *User
	Seller   *User
	Admin    *User
	Products []Product
	Created  int
}

// Reset deletes every row, children first.
func Reset(ctx context.Context, repo *Repository) error {
	db := repo.DB().WithContext(ctx)
	for _, table := range []string{"notifications", "products", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("clean %s: %w", table, err)
		}
	}
	return nil
}

// Seed creates one account per role, a small catalog and notifications in
// each producer shape the client has to understand.
func Seed(ctx context.Context, repo *Repository, password string) (*SeedResult, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	res := &SeedResult{}
	users := []struct {
		dst   **User
		email string
		name  string
		role  Role
	}{
		{&res.Buyer, BuyerEmail, "Demo Buyer", RoleBuyer},
		{&res.Seller, SellerEmail, "Demo Seller", RoleSeller},
		{&res.Admin, AdminEmail, "Admin", RoleAdmin},
	}
	for _, u := range users {
		user := &User{Email: u.email, PasswordHash: string(hash), Role: u.role, Name: u.name}
		if err := repo.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("create user %s: %w", u.email, err)
		}
		*u.dst = user
	}

	for _, p := range []struct {
		title string
		qty   int
	}{
		{"Blue Widget", 3},
		{"Walnut Desk Organizer", 12},
		{"Ceramic Pour-Over Set", 0},
		{"Blue Widget Mini", 40},
	} {
		product := Product{SellerID: res.Seller.ID, Title: p.title, Quantity: p.qty}
		if err := repo.CreateProduct(ctx, &product); err != nil {
			return nil, fmt.Errorf("create product %q: %w", p.title, err)
		}
		res.Products = append(res.Products, product)
	}

	widget, desk, pourOver := res.Products[0], res.Products[1], res.Products[2]
	fakeOrder := strings.Repeat("ab", 12)

	seeds := []struct {
		userID    string
		typ       string
		message   string
		priority  string
		channels  []string
		relatedID string
		data      map[string]any
		meta      map[string]any
		read      bool
	}{
		// Modern producer: top-level relatedId.
		{userID: res.Buyer.ID, typ: "order", message: "Your order has shipped", relatedID: fakeOrder},
		// Order nested under data.order.
		{userID: res.Buyer.ID, typ: "order", message: "Order #" + fakeOrder[:8] + " was delivered",
			data: map[string]any{"order": map[string]any{"_id": fakeOrder, "total": 42.5}}, read: true},
		// Back in stock, id only reachable by title search.
		{userID: res.Buyer.ID, typ: "product-available", message: fmt.Sprintf("Good news! %q is back in stock", widget.Title),
			priority: "high", channels: []string{"in_app", "email"}},
		// Back in stock with data.productId.
		{userID: res.Buyer.ID, typ: "product-available", message: desk.Title + " is now available",
			data: map[string]any{"productId": desk.ID}},
		// Seller stock alerts with quantities in different places.
		{userID: res.Seller.ID, typ: "product", message: "Low stock: " + widget.Title, priority: "high",
			data: map[string]any{"product": map[string]any{"_id": widget.ID, "quantity": widget.Quantity}}},
		{userID: res.Seller.ID, typ: "product", message: "Stock update for " + desk.Title,
			data: map[string]any{"productId": desk.ID}, meta: map[string]any{"stock": desk.Quantity}},
		// Legacy producer: only meta.originalRelatedId.
		{userID: res.Seller.ID, typ: "product", message: pourOver.Title + " is sold out",
			meta: map[string]any{"originalRelatedId": pourOver.ID, "quantity": 0}},
		// New order for the seller, id buried in an unknown field.
		{userID: res.Seller.ID, typ: "order", message: "New order received", priority: "high",
			data: map[string]any{"buyer": res.Buyer.ID, "ref": map[string]any{"orderRef": fakeOrder}}},
		{userID: res.Admin.ID, typ: "other", message: "Nightly report ready", priority: "low"},
	}

	for _, s := range seeds {
		data, err := encodeJSON(s.data)
		if err != nil {
			return nil, err
		}
		meta, err := encodeJSON(s.meta)
		if err != nil {
			return nil, err
		}
		channels := s.channels
		if len(channels) == 0 {
			channels = []string{"in_app"}
		}

		n := &Notification{
			UserID:    s.userID,
			Type:      s.typ,
			Message:   s.message,
			Priority:  s.priority,
			Channels:  utils.ChannelsToString(channels),
			RelatedID: s.relatedID,
			Data:      data,
			Meta:      meta,
			IsRead:    s.read,
		}
		if err := repo.CreateNotification(ctx, n); err != nil {
			return nil, fmt.Errorf("create notification: %w", err)
		}
		res.Created++
	}

	return res, nil
}
