package handler

import (
	"context"
	"net/http"

	"propshare-backend/bootstrap"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

var handler http.HandlerFunc

func init() {
	app, err := bootstrap.New(context.Background())
	if err != nil {
		panic("app create: " + err.Error())
	}
	handler = adaptor.FiberApp(app.Fiber)
}

// Handler is the serverless entry point. All requests are rewritten here.
func Handler(w http.ResponseWriter, r *http.Request) {
	r.RequestURI = r.URL.String()
	handler(w, r)
}
