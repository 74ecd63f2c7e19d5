package httpapi

import (
	stdhttp "net/http"
	"time"

	"richform/internal/http/handlers"
	"richform/internal/infra"
	"richform/internal/middleware"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires both gateways onto one mux. The image gateway enforces the
// origin allow-list; the submission relay at the root path keeps the
// permissive policy it always had. The CORS split runs ahead of routing so
// preflight requests are answered for every path.
func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()

	imageCORS := middleware.CORS(cfg.AllowedOrigins, cfg.DefaultOrigin)
	r.Use(middleware.RequestID, middleware.Logger(logger), func(next stdhttp.Handler) stdhttp.Handler {
		imageChain := imageCORS(next)
		relayChain := middleware.CORSAny(next)
		return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, req *stdhttp.Request) {
			if req.URL.Path == "/" {
				relayChain.ServeHTTP(w, req)
				return
			}
			imageChain.ServeHTTP(w, req)
		})
	})

	// Submission relay
	r.Get("/", app.FetchSubmission)

	// Image gateway. Writes are rate limited per client.
	r.Group(func(g chi.Router) {
		g.Use(middleware.RateLimit(cfg.UploadRateLimit, time.Minute))
		g.Post("/upload", app.Upload)
		g.Post("/proxy", app.ProxyFetch)
	})
	r.Get("/image/{filename}", app.RetrieveImage)

	r.Get("/healthz", app.Health)

	r.NotFound(app.NotFound)

	return r
}
