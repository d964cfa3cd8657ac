package utils

import (
	"encoding/json"
	"log"
	"net/http"
)

// RespondJSON 以 JSON 写出响应体
func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[ops] failed to encode response: %v", err)
	}
}

// RespondError 写出 {"error": message}
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondFile 把本地文件直接返回，文件不存在时返回 404
func RespondFile(w http.ResponseWriter, r *http.Request, path, contentType string) {
	if path == "" {
		RespondError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, path)
}
