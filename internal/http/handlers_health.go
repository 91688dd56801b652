package httpx

import (
	"net/http"
)

type healthResponse struct {
	Status  string `json:"status"`
	Loading bool   `json:"loading"`
}

// healthHandler reports liveness. It never triggers identity resolution.
func healthHandler(auth AuthController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			return
		}
		resp := healthResponse{Status: "ok"}
		if auth != nil {
			resp.Loading = auth.State().Loading
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
