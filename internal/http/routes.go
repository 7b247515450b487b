package httpx

import (
	"log/slog"
	"net/http"

	"github.com/estoqueflow/sessiongate/config"
	domainauth "github.com/estoqueflow/sessiongate/internal/domain/auth"
	"github.com/estoqueflow/sessiongate/internal/service"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Coordinator *service.Coordinator
	Guard       *service.Guard
	HTTP        config.HTTPConfig
	Logger      *slog.Logger
}

// NewRouter creates and configures the HTTP router. Guarded demo routes show
// the per-role gate; real deployments put their reverse-proxied application
// routes behind the same Protect middleware.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	session := &SessionHandlers{Coord: services.Coordinator, Logger: logger}

	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("HEAD /health", healthHandler)

	mux.HandleFunc("GET /api/session", session.Snapshot)
	mux.HandleFunc("POST /api/auth/login", session.SignIn)
	mux.HandleFunc("POST /api/auth/signup", session.SignUp)
	mux.HandleFunc("POST /api/auth/logout", session.SignOut)
	mux.HandleFunc("POST /api/auth/reset-password", session.ResetPassword)
	mux.HandleFunc("POST /api/auth/password", session.UpdatePassword)
	mux.HandleFunc("POST /api/auth/recover", session.RecoverSession)
	mux.HandleFunc("POST /api/profile", session.UpdateProfile)
	mux.HandleFunc("POST /api/profile/refresh", session.RefreshProfile)

	// Guarded content routes, by minimum role.
	reader := Protect(services.Guard, services.HTTP, domainauth.RoleLeitor)
	shipper := Protect(services.Guard, services.HTTP, domainauth.RoleExpedicao)
	admin := Protect(services.Guard, services.HTTP, domainauth.RoleAdmin)

	mux.Handle("GET /app/", reader(http.HandlerFunc(renderOK)))
	mux.Handle("GET /app/expedicao/", shipper(http.HandlerFunc(renderOK)))
	mux.Handle("GET /app/admin/", admin(http.HandlerFunc(renderOK)))

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	handler = RequestID(handler)
	return handler
}

func renderOK(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
