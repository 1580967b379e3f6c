package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"streamchat/internal/transport/http/response"
)

// UserIDHeader identifies the caller. Identity is asserted upstream
// (gateway or proxy); this service only scopes data by it.
const UserIDHeader = "X-User-ID"

func getUserID(c *gin.Context) (string, bool) {
	userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
	if userID == "" {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing "+UserIDHeader+" header")
		return "", false
	}
	return userID, true
}

func parseLimit(raw string) (int, error) {
	return strconv.Atoi(raw)
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
