package devserver

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"

	"marketnotify/internal/pkg/utils"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// User is a marketplace account.
type User struct {
	ID           string    `gorm:"primaryKey;size:24" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         Role      `gorm:"size:16;not null" json:"role"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = primitive.NewObjectID().Hex()
	}
	return nil
}

type Product struct {
	ID        string    `gorm:"primaryKey;size:24" json:"_id"`
	SellerID  string    `gorm:"size:24;index" json:"seller"`
	Title     string    `gorm:"index;not null" json:"title"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == "" {
		p.ID = primitive.NewObjectID().Hex()
	}
	return nil
}

// Notification is stored in the producer's own shape. Data and Meta are raw
// JSON so legacy payloads survive unchanged.
type Notification struct {
	ID        string    `gorm:"primaryKey;size:24"`
	UserID    string    `gorm:"size:24;index;not null"`
	Type      string    `gorm:"size:32;not null"`
	Message   string    `gorm:"not null"`
	Priority  string    `gorm:"size:16"`
	Channels  string    `gorm:"not null;default:'[]'"`
	RelatedID string    `gorm:"size:64"`
	Data      []byte
	Meta      []byte
	IsRead    bool      `gorm:"not null;default:false;index"`
	CreatedAt time.Time `gorm:"index"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == "" {
		n.ID = primitive.NewObjectID().Hex()
	}
	return nil
}

// Doc renders the notification as the push and REST payload.
func (n *Notification) Doc() map[string]any {
	doc := map[string]any{
		"_id":       n.ID,
		"recipient": n.UserID,
		"type":      n.Type,
		"message":   n.Message,
		"read":      n.IsRead,
		"channels":  utils.StringToChannels(n.Channels),
		"createdAt": n.CreatedAt.UTC().Format(time.RFC3339),
	}
	if n.Priority != "" {
		doc["priority"] = n.Priority
	}
	if n.RelatedID != "" {
		doc["relatedId"] = n.RelatedID
	}
	if v := decodeJSON(n.Data); v != nil {
		doc["data"] = v
	}
	if v := decodeJSON(n.Meta); v != nil {
		doc["meta"] = v
	}
	return doc
}

func decodeJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	return v
}

func encodeJSON(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&User{}, &Product{}, &Notification{}}
}
