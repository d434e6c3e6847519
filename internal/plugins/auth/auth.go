// Package auth implements Basic, API-key, and HS256-JWT authentication
// as an early RequestFilter hook, grounded on the original prototype's
// auth plugin (crates/plugin/src/plugins/auth.rs), including its
// exclude_paths carve-out and its manual (non-library) HS256
// signature-then-payload JWT check.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/avalonproxy/avalon/internal/pipeline"
)

// BasicCredential is one allowed username/password pair.
type BasicCredential struct {
	Username string
	Password string
}

// APIKeyConfig describes one accepted API key and where to look for it.
type APIKeyConfig struct {
	Key        string
	HeaderName string
	QueryParam string
}

// JWTConfig configures HS256 bearer-token validation.
type JWTConfig struct {
	Secret string
}

// Config is the auth plugin's full configuration.
type Config struct {
	Basic        []BasicCredential
	APIKeys      []APIKeyConfig
	JWT          *JWTConfig
	Realm        string
	ExcludePaths []string
}

// HasAuth reports whether any auth method is configured.
func (c Config) HasAuth() bool {
	return len(c.Basic) > 0 || len(c.APIKeys) > 0 || c.JWT != nil
}

// Register wires the auth hook into registry at early priority.
func Register(registry *pipeline.Registry, cfg Config) {
	if cfg.Realm == "" {
		cfg.Realm = "Restricted"
	}
	registry.Register(pipeline.RequestFilter, pipeline.PriorityEarly, pipeline.HookFunc{
		HookName: "plugin.auth",
		Fn:       cfg.hook,
	})
}

func (cfg Config) hook(ctx *pipeline.Context) (pipeline.Signal, error) {
	if !cfg.HasAuth() {
		return pipeline.Continue, nil
	}
	r := ctx.Std
	if cfg.isPathExcluded(r.URL.Path) {
		return pipeline.Continue, nil
	}

	authHeader := r.Header.Get("Authorization")

	if identity, ok := cfg.checkBasic(authHeader); ok {
		ctx.Vars["auth_identity"] = identity
		ctx.Vars["auth_method"] = "basic"
		return pipeline.Continue, nil
	}
	if identity, ok := cfg.checkAPIKey(r); ok {
		ctx.Vars["auth_identity"] = identity
		ctx.Vars["auth_method"] = "api_key"
		return pipeline.Continue, nil
	}
	if identity, ok := cfg.checkJWT(authHeader); ok {
		ctx.Vars["auth_identity"] = identity
		ctx.Vars["auth_method"] = "jwt"
		return pipeline.Continue, nil
	}

	ctx.ResponseHeader.Set("WWW-Authenticate", `Basic realm="`+cfg.Realm+`"`)
	ctx.ResponseStatus = http.StatusUnauthorized
	return pipeline.ShortCircuit, nil
}

func (cfg Config) isPathExcluded(path string) bool {
	for _, p := range cfg.ExcludePaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (cfg Config) checkBasic(header string) (string, bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", false
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", false
	}
	for _, c := range cfg.Basic {
		if c.Username == user && subtle.ConstantTimeCompare([]byte(c.Password), []byte(pass)) == 1 {
			return user, true
		}
	}
	return "", false
}

func (cfg Config) checkAPIKey(r *http.Request) (string, bool) {
	for _, k := range cfg.APIKeys {
		if v := r.Header.Get(k.HeaderName); v != "" && v == k.Key {
			return maskKey(k.Key), true
		}
		if k.QueryParam != "" && r.URL.Query().Get(k.QueryParam) == k.Key {
			return maskKey(k.Key), true
		}
	}
	return "", false
}

func maskKey(key string) string {
	n := len(key)
	if n > 8 {
		n = 8
	}
	return "api_key:" + key[:n]
}

func (cfg Config) checkJWT(authHeader string) (string, bool) {
	if cfg.JWT == nil {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", false
	}
	token := authHeader[len(prefix):]
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", false
	}

	message := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, []byte(cfg.JWT.Secret))
	mac.Write([]byte(message))
	expected := mac.Sum(nil)

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(expected, signature) {
		return "", false
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", false
	}
	var claims struct {
		Subject string `json:"sub"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Subject == "" {
		return "jwt_user", true
	}
	return claims.Subject, true
}
