package handler

import (
	"encoding/json"
	"net/http"

	"rentflow/internal/auth"
)

type MeHandler struct{}

func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	c, _ := auth.ClaimsFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user_id": c.UserID,
		"role":    c.Role,
		"admin":   c.IsAdmin(),
	})
}
