package middleware

import "strings"

// MaskToken маскирует сессионный токен в логах: виден только префикс.
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 8 {
		return "****"
	}
	return s[:6] + "***"
}
