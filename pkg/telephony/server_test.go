package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
)

// computeSignature mirrors the provider's webhook signing: the full URL plus
// the form parameters sorted by key, HMAC-SHA1 under the auth token.
func computeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(fullURL)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postVoice(t *testing.T, srv *Server, target string, form url.Values, sign func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign != nil {
		sign(req)
	}
	rec := httptest.NewRecorder()
	srv.handleVoice(rec, req)
	return rec
}

func TestVoiceWebhookUnsignedMode(t *testing.T) {
	srv := NewServer(Config{PublicURL: "https://voice.example.com"}, Deps{})

	form := url.Values{"From": {"+61411111111"}, "CallSid": {"CA1"}}
	rec := postVoice(t, srv, "https://voice.example.com/voice", form, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 in unsigned mode, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("expected text/xml, got %q", ct)
	}
	body, _ := io.ReadAll(rec.Body)
	twiml := string(body)
	if !strings.Contains(twiml, `<Connect><Stream url="wss://voice.example.com/ws">`) {
		t.Fatalf("expected stream element pointing at the media endpoint, got %s", twiml)
	}
	if !strings.Contains(twiml, `<Parameter name="callerNumber" value="+61411111111"/>`) {
		t.Fatalf("expected caller threaded as custom parameter, got %s", twiml)
	}
}

func TestVoiceWebhookRejectsBadSignature(t *testing.T) {
	srv := NewServer(Config{PublicURL: "https://voice.example.com", AuthToken: "tok"}, Deps{})

	form := url.Values{"From": {"+61411111111"}}
	rec := postVoice(t, srv, "https://voice.example.com/voice", form, func(r *http.Request) {
		r.Header.Set("X-Twilio-Signature", "bm90LXRoZS1yaWdodC1zaWc=")
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", rec.Code)
	}

	rec = postVoice(t, srv, "https://voice.example.com/voice", form, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing signature, got %d", rec.Code)
	}
}

func TestVoiceWebhookAcceptsValidSignature(t *testing.T) {
	srv := NewServer(Config{PublicURL: "https://voice.example.com", AuthToken: "tok"}, Deps{})

	form := url.Values{"From": {"+61411111111"}, "CallSid": {"CA1"}}
	sig := computeSignature("tok", "https://voice.example.com/voice", form)
	rec := postVoice(t, srv, "https://voice.example.com/voice", form, func(r *http.Request) {
		r.Header.Set("X-Twilio-Signature", sig)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid signature, got %d", rec.Code)
	}
}

func TestVoiceWebhookRejectsNonPost(t *testing.T) {
	srv := NewServer(Config{}, Deps{})
	req := httptest.NewRequest(http.MethodGet, "/voice", nil)
	rec := httptest.NewRecorder()
	srv.handleVoice(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestVoiceWebhookEscapesCaller(t *testing.T) {
	srv := NewServer(Config{PublicURL: "https://voice.example.com"}, Deps{})
	form := url.Values{"From": {`+614<evil>&"x"`}}
	rec := postVoice(t, srv, "https://voice.example.com/voice", form, nil)
	body, _ := io.ReadAll(rec.Body)
	if strings.Contains(string(body), "<evil>") {
		t.Fatalf("caller value must be XML-escaped: %s", body)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.Addr != ":8080" || cfg.VoicePath != "/voice" || cfg.WSPath != "/ws" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.PrimeFrames != 3 {
		t.Fatalf("expected 3 priming frames by default, got %d", cfg.PrimeFrames)
	}
}
