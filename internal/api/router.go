package api

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/middleware"
)

// NewRouter builds the HTTP handler with all routes and middleware.
//
// Route table:
//
//	POST   /api/v1/indexes                              → create index
//	GET    /api/v1/indexes                              → list indexes
//	GET    /api/v1/indexes/{index}                      → index info
//	DELETE /api/v1/indexes/{index}[?keepdocs=true]      → drop index
//	POST   /api/v1/indexes/{index}/documents            → add document
//	GET    /api/v1/indexes/{index}/documents?key=…      → get many documents
//	GET    /api/v1/indexes/{index}/documents/{key}      → get document
//	DELETE /api/v1/indexes/{index}/documents/{key}[?dd] → delete document
//	PUT    /api/v1/indexes/{index}/documents/{key}/payload
//	POST   /api/v1/indexes/{index}/synonyms             → add synonym group
//	PUT    /api/v1/indexes/{index}/synonyms/{id}[?force]
//	GET    /api/v1/indexes/{index}/synonyms             → synonym dump
//	POST   /api/v1/indexes/{index}/rules                → add membership rule
//	GET    /api/v1/indexes/{index}/geo/{field}          → radius lookup
//	POST   /api/v1/aliases                              → add alias
//	PUT    /api/v1/aliases/{alias}                      → update alias
//	DELETE /api/v1/aliases/{alias}                      → delete alias
//	GET    /api/v1/resolve/{name}                       → resolve name or alias
//	GET    /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Timeout → Metrics → mux
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, timeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	// Index lifecycle
	mux.HandleFunc("POST /api/v1/indexes", h.command("api.create", h.CreateIndex))
	mux.HandleFunc("GET /api/v1/indexes", h.ListIndexes)
	mux.HandleFunc("GET /api/v1/indexes/{index}", h.Info)
	mux.HandleFunc("DELETE /api/v1/indexes/{index}", h.command("api.drop", h.DropIndex))

	// Documents
	mux.HandleFunc("POST /api/v1/indexes/{index}/documents", h.command("api.add", h.AddDocument))
	mux.HandleFunc("GET /api/v1/indexes/{index}/documents", h.GetDocuments)
	mux.HandleFunc("GET /api/v1/indexes/{index}/documents/{key}", h.GetDocument)
	mux.HandleFunc("DELETE /api/v1/indexes/{index}/documents/{key}", h.command("api.del", h.DeleteDocument))
	mux.HandleFunc("PUT /api/v1/indexes/{index}/documents/{key}/payload", h.command("api.setpayload", h.SetPayload))

	// Synonyms and rules
	mux.HandleFunc("POST /api/v1/indexes/{index}/synonyms", h.command("api.synadd", h.SynAdd))
	mux.HandleFunc("PUT /api/v1/indexes/{index}/synonyms/{id}", h.command("api.synupdate", h.SynUpdate))
	mux.HandleFunc("GET /api/v1/indexes/{index}/synonyms", h.SynDump)
	mux.HandleFunc("POST /api/v1/indexes/{index}/rules", h.command("api.ruleadd", h.RuleAdd))

	mux.HandleFunc("GET /api/v1/indexes/{index}/geo/{field}", h.GeoRadius)

	// Aliases
	mux.HandleFunc("POST /api/v1/aliases", h.command("api.aliasadd", h.AliasAdd))
	mux.HandleFunc("PUT /api/v1/aliases/{alias}", h.command("api.aliasupdate", h.AliasUpdate))
	mux.HandleFunc("DELETE /api/v1/aliases/{alias}", h.command("api.aliasdel", h.AliasDel))
	mux.HandleFunc("GET /api/v1/resolve/{name}", h.Resolve)

	// Metrics sits directly on the mux so it sees the matched pattern.
	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	if timeout > 0 {
		chain = middleware.Timeout(timeout)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)

	return chain
}
