package relay

import (
	"encoding/json"
	"net/http"
)

// apiError is one element of the JSON error envelope.
type apiError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type errorEnvelope struct {
	Errors []apiError `json:"errors"`
}

// writeError sends {"errors":[{status,title,detail}]} with the given status.
func writeError(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Errors: []apiError{{Status: status, Title: title, Detail: detail}},
	})
}

// notFound answers every unregistered route.
func notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Not Found", "Not Found")
}
