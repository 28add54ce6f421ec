package handler

import (
	"net/http"

	"github.com/mesophy/signaged/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
