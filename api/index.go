// Package handler is the serverless function entry point. The hosting
// platform routes every request to Handler.
package handler

import (
	"net/http"

	"github.com/tjfontaine/contact-gateway/pkg/gateway"
)

// Handler serves one invocation.
func Handler(w http.ResponseWriter, r *http.Request) {
	gateway.Serve(w, r)
}
