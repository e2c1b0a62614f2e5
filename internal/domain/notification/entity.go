package notification

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Type represents notification type
type Type string

const (
	TypeOrder            Type = "order"
	// TypeProduct is a seller-facing stock alert.
	TypeProduct          Type = "product"
	// TypeProductAvailable tells a buyer a watched product is back.
	TypeProductAvailable Type = "product-available"
	TypeOther            Type = "other"
)

// Priority of a notification. Empty means normal.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
)

// Ref is a reference to a related entity. Producers send it either as a bare
// id or as a nested document carrying `_id` or `id`.
type Ref struct {
	ID string
}

// MarshalJSON encodes the reference as its bare id.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ID)
}

// ProductDoc is the product shape found under data.product.
type ProductDoc struct {
	ID       string   `json:"_id,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
	Stock    *float64 `json:"stock,omitempty"`
}

// Payload is the known subset of the opaque `data` object.
type Payload struct {
	Order     *Ref        `json:"order,omitempty"`
	Product   *ProductDoc `json:"product,omitempty"`
	ProductID *Ref        `json:"productId,omitempty"`
	Quantity  *float64    `json:"quantity,omitempty"`
	Stock     *float64    `json:"stock,omitempty"`
}

// Meta is the known subset of the opaque `meta` object.
type Meta struct {
	OriginalRelatedID *Ref     `json:"originalRelatedId,omitempty"`
	Quantity          *float64 `json:"quantity,omitempty"`
	Stock             *float64 `json:"stock,omitempty"`
}

// Record is a single notification as delivered by push or poll.
//
// Several legacy producer shapes coexist, so every entity reference is
// optional. Doc keeps the full decoded document for last-resort scanning and
// must be treated as read-only.
type Record struct {
	ID        string   `json:"_id,omitempty"`
	Type      Type     `json:"type"`
	Message   string   `json:"message"`
	Read      bool     `json:"read"`
	Priority  Priority `json:"priority,omitempty"`
	Channels  []string `json:"channels,omitempty"`
	CreatedAt string   `json:"createdAt,omitempty"`

	RelatedID *Ref     `json:"relatedId,omitempty"`
	Related   *Ref     `json:"related,omitempty"`
	ProductID *Ref     `json:"productId,omitempty"`
	OrderID   *Ref     `json:"orderId,omitempty"`
	Data      *Payload `json:"data,omitempty"`
	Meta      *Meta    `json:"meta,omitempty"`

	// IsNew is set on the stored copy at push ingestion and drives one-shot
	// side effects. It is never read from the wire.
	IsNew bool `json:"isNew,omitempty"`

	// Key identifies the record inside the store: ID when present, a local
	// key otherwise.
	Key string `json:"key,omitempty"`

	Doc map[string]any `json:"-"`

	generation uint64
}

// UnmarshalJSON decodes any producer shape. It only fails when the payload is
// not a JSON object; unknown or mistyped fields are ignored.
func (r *Record) UnmarshalJSON(b []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return ErrNotAnObject
	}
	if doc == nil {
		return ErrNotAnObject
	}
	*r = FromDoc(doc)
	return nil
}

// FromDoc builds a Record from a decoded JSON object.
func FromDoc(doc map[string]any) Record {
	r := Record{Doc: doc}

	r.ID = NormalizeRef(doc["_id"])
	if r.ID == "" {
		r.ID = NormalizeRef(doc["id"])
	}
	r.Type = Type(stringOf(doc["type"]))
	r.Message = stringOf(doc["message"])
	r.Read = boolOf(doc["read"]) || boolOf(doc["isRead"])
	r.Priority = Priority(stringOf(doc["priority"]))
	r.CreatedAt = stringOf(doc["createdAt"])

	if list, ok := doc["channels"].([]any); ok {
		for _, c := range list {
			if s := stringOf(c); s != "" {
				r.Channels = append(r.Channels, s)
			}
		}
	}

	r.RelatedID = refOf(doc["relatedId"])
	r.Related = refOf(doc["related"])
	r.ProductID = refOf(doc["productId"])
	r.OrderID = refOf(doc["orderId"])

	if data, ok := doc["data"].(map[string]any); ok {
		p := &Payload{
			Order:     refOf(data["order"]),
			ProductID: refOf(data["productId"]),
			Quantity:  numberOf(data["quantity"]),
			Stock:     numberOf(data["stock"]),
		}
		switch prod := data["product"].(type) {
		case map[string]any:
			p.Product = &ProductDoc{
				ID:       NormalizeRef(prod),
				Quantity: numberOf(prod["quantity"]),
				Stock:    numberOf(prod["stock"]),
			}
		case string:
			if id := NormalizeRef(prod); id != "" {
				p.Product = &ProductDoc{ID: id}
			}
		}
		r.Data = p
	}

	if meta, ok := doc["meta"].(map[string]any); ok {
		r.Meta = &Meta{
			OriginalRelatedID: refOf(meta["originalRelatedId"]),
			Quantity:          numberOf(meta["quantity"]),
			Stock:             numberOf(meta["stock"]),
		}
	}

	return r
}

// EffectivePriority returns the priority with the normal default applied.
func (r Record) EffectivePriority() Priority {
	switch r.Priority {
	case PriorityHigh, PriorityLow:
		return r.Priority
	default:
		return PriorityNormal
	}
}

// Clone returns a copy that shares only the read-only Doc.
func (r Record) Clone() Record {
	c := r
	if r.Channels != nil {
		c.Channels = append([]string(nil), r.Channels...)
	}
	return c
}

// NormalizeRef turns a reference value into an id string. Documents resolve
// to their `_id` or `id`. Empty, "undefined" and "null" yield "".
func NormalizeRef(v any) string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" || s == "undefined" || s == "null" {
			return ""
		}
		return s
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case map[string]any:
		if id := NormalizeRef(t["_id"]); id != "" {
			return id
		}
		return NormalizeRef(t["id"])
	}
	return ""
}

func refOf(v any) *Ref {
	id := NormalizeRef(v)
	if id == "" {
		return nil
	}
	return &Ref{ID: id}
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func boolOf(v any) bool {
	b, _ := v.(bool)
	return b
}

func numberOf(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}
