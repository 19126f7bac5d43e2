package telephony

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voxlead/voxlead/pkg/errorsx"
	twilioclient "github.com/twilio/twilio-go/client"
)

type Config struct {
	Addr      string `mapstructure:"addr"`
	PublicURL string `mapstructure:"public_url"`
	// AuthToken enables webhook signature verification. Empty token means
	// unsigned mode: requests are accepted as-is.
	AuthToken string `mapstructure:"auth_token"`
	VoicePath string `mapstructure:"voice_path"`
	WSPath    string `mapstructure:"ws_path"`
	Greeting  string `mapstructure:"greeting"`

	// Provider-compatibility tuning knobs; the right values depend on the
	// peer environment, so they are configuration rather than constants.
	PrimeFrames     int  `mapstructure:"prime_frames"`
	DeclareTrack    bool `mapstructure:"declare_track"`
	ContentTypeHint bool `mapstructure:"content_type_hint"`

	BusinessName string `mapstructure:"business_name"`
	BusinessID   string `mapstructure:"business_id"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WSPath == "" {
		c.WSPath = "/ws"
	}
	if c.PrimeFrames <= 0 {
		c.PrimeFrames = 3
	}
	return c
}

// Server exposes the voice webhook and the bidirectional media endpoint,
// spinning up one independent Session per media connection.
type Server struct {
	cfg      Config
	deps     Deps
	server   *http.Server
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(cfg Config, deps Deps) *Server {
	return &Server{
		cfg:  cfg.withDefaults(),
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: slog.Default().With(slog.String("component", "telephony")),
	}
}

func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.VoicePath, s.handleVoice)
	mux.HandleFunc(s.cfg.WSPath, func(w http.ResponseWriter, r *http.Request) {
		s.handleStream(ctx, w, r)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("telephony_server_error", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("telephony_listening",
		slog.String("addr", s.cfg.Addr),
		slog.String("voice_path", s.cfg.VoicePath),
		slog.String("ws_path", s.cfg.WSPath))
	return nil
}

func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// handleVoice answers the provider's call-setup webhook with a call-control
// document opening a media stream back to this process, threading the
// caller's number through as a custom parameter.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if s.cfg.AuthToken != "" && !s.validateSignature(r) {
		s.logger.Warn("webhook_rejected",
			slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	caller := r.PostFormValue("From")
	twiml := `<Response><Connect><Stream url="` + s.websocketURL(r) + `">` +
		`<Parameter name="` + callerParamName + `" value="` + xmlEscape(caller) + `"/>` +
		`</Stream></Connect></Response>`
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(twiml))
}

func (s *Server) handleStream(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := newSession(ctx, conn, s.cfg, s.deps)
	sess.run()
}

func (s *Server) validateSignature(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	validator := twilioclient.NewRequestValidator(s.cfg.AuthToken)
	return validator.Validate(s.requestURL(r), params, signature)
}

func (s *Server) requestURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.Addr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (s *Server) websocketURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(s.cfg.PublicURL) + s.cfg.WSPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(s.cfg.Addr, ":")
	}
	return "wss://" + host + s.cfg.WSPath
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}
