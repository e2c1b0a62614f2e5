package devserver

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type NotificationListResponse struct {
	Notifications []map[string]any `json:"notifications"`
	UnreadCount   int64            `json:"unread_count"`
}

type UnreadCountResponse struct {
	UnreadCount int64 `json:"unread_count"`
}

type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

type ProductSearchResponse struct {
	Products []Product `json:"products"`
}

type FailMarkReadRequest struct {
	Fail bool `json:"fail"`
}

type DisconnectResponse struct {
	Closed int `json:"closed"`
}
