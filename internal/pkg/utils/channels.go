package utils

import (
	"encoding/json"
	"strings"
)

// ChannelsToString converts []string to JSON string (safe for DB)
func ChannelsToString(channels []string) string {
	if len(channels) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(channels)
	return string(data)
}

// StringToChannels converts DB string back to []string
func StringToChannels(s string) []string {
	if s == "" || s == "[]" {
		return []string{}
	}
	var channels []string
	if err := json.Unmarshal([]byte(s), &channels); err != nil {
		// Fallback: treat as comma-separated if invalid JSON
		parts := strings.Split(s, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return channels
}
