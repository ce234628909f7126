package session_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sessiond/sessiond-go/internal/keyset"
	"github.com/sessiond/sessiond-go/pkg/session"
	"github.com/sessiond/sessiond-go/pkg/sessiond"
)

const (
	accessTokenValidityMS  = int64(3600 * 1000)
	refreshTokenValidityMS = int64(144 * 3600 * 1000)
)

// fakeCore is an in-memory stand-in for the core service. It mints real
// RS256 access tokens, rotates refresh tokens and retires a refresh token
// once a descendant token has been used, which is what theft detection keys
// off.
type fakeCore struct {
	t *testing.T

	key          *rsa.PrivateKey
	publicKeyB64 string
	kid          string
	signer       jose.Signer

	mu            sync.Mutex
	sessions      map[string]*fakeSession
	refreshTokens map[string]*refreshState
	byHash        map[string]string

	verifyCalls    int
	handshakeCalls int
	lastRID        string
	lastAPIVersion string
}

type fakeSession struct {
	handle      string
	userID      string
	sessionData map[string]any
	jwtPayload  map[string]any
	antiCsrf    string
	expiry      int64
	timeCreated int64
}

type refreshState struct {
	handle  string
	retired bool
}

type coreClaims struct {
	SessionHandle           string         `json:"sessionHandle"`
	UserID                  string         `json:"userId"`
	RefreshTokenHash1       string         `json:"refreshTokenHash1"`
	ParentRefreshTokenHash1 string         `json:"parentRefreshTokenHash1,omitempty"`
	UserData                map[string]any `json:"userData"`
	AntiCsrfToken           string         `json:"antiCsrfToken,omitempty"`
	ExpiryTime              int64          `json:"expiryTime"`
	TimeCreated             int64          `json:"timeCreated"`
}

// StartCoreServer runs a fake core and returns it together with its server.
func StartCoreServer(t *testing.T) (*httptest.Server, *fakeCore) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	publicKeyB64 := base64.StdEncoding.EncodeToString(der)

	kid, err := keyset.KeyID(publicKeyB64)
	require.NoError(t, err)

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithHeader(jose.HeaderKey("kid"), kid),
	)
	require.NoError(t, err)

	core := &fakeCore{
		t:             t,
		key:           key,
		publicKeyB64:  publicKeyB64,
		kid:           kid,
		signer:        signer,
		sessions:      map[string]*fakeSession{},
		refreshTokens: map[string]*refreshState{},
		byHash:        map[string]string{},
	}

	server := httptest.NewServer(http.HandlerFunc(core.handle))
	t.Cleanup(server.Close)

	return server, core
}

func (c *fakeCore) handle(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.URL.Path != "/apiversion" {
		c.lastRID = r.Header.Get("rid")
		c.lastAPIVersion = r.Header.Get("api-version")
	}

	switch {
	case r.URL.Path == "/apiversion":
		c.writeJSON(w, map[string]any{"versions": []string{"1.0", "1.1", "1.2"}})
	case r.URL.Path == "/recipe/handshake":
		c.handshakeCalls++
		c.writeJSON(w, c.handshakeBody())
	case r.URL.Path == "/recipe/session" && r.Method == http.MethodPost:
		c.handleCreate(w, r)
	case r.URL.Path == "/recipe/session" && r.Method == http.MethodGet:
		c.handleSessionInfo(w, r)
	case r.URL.Path == "/recipe/session/verify":
		c.verifyCalls++
		c.handleVerify(w, r)
	case r.URL.Path == "/recipe/session/refresh":
		c.handleRefresh(w, r)
	case r.URL.Path == "/recipe/session/remove":
		c.handleRemove(w, r)
	case r.URL.Path == "/recipe/session/user":
		c.handleUserSessions(w, r)
	case r.URL.Path == "/recipe/session/data" && r.Method == http.MethodPut:
		c.handleUpdateData(w, r)
	case r.URL.Path == "/recipe/jwt/data" && r.Method == http.MethodPut:
		c.handleUpdateJWTData(w, r)
	case r.URL.Path == "/recipe/session/regenerate":
		c.handleRegenerate(w, r)
	default:
		http.NotFound(w, r)
	}
}

// VerifyCalls reports how many times the verify endpoint was hit.
func (c *fakeCore) VerifyCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.verifyCalls
}

// HandshakeCalls reports how many times the handshake endpoint was hit.
func (c *fakeCore) HandshakeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.handshakeCalls
}

// LastRecipeHeaders returns the rid and api-version headers of the most
// recent recipe call.
func (c *fakeCore) LastRecipeHeaders() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastRID, c.lastAPIVersion
}

// SessionCount reports how many sessions are alive.
func (c *fakeCore) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sessions)
}

func (c *fakeCore) handshakeBody() map[string]any {
	return map[string]any{
		"status":                         "OK",
		"jwtSigningPublicKey":            c.publicKeyB64,
		"jwtSigningPublicKeyExpiryTime":  time.Now().UnixMilli() + 3600*1000,
		"accessTokenBlacklistingEnabled": false,
		"accessTokenValidity":            accessTokenValidityMS,
		"refreshTokenValidity":           refreshTokenValidityMS,
	}
}

func (c *fakeCore) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID             string         `json:"userId"`
		UserDataInJWT      map[string]any `json:"userDataInJWT"`
		UserDataInDatabase map[string]any `json:"userDataInDatabase"`
		EnableAntiCsrf     bool           `json:"enableAntiCsrf"`
	}
	c.decode(r, &body)

	now := time.Now().UnixMilli()

	s := &fakeSession{
		handle:      uuid.NewString(),
		userID:      body.UserID,
		sessionData: body.UserDataInDatabase,
		jwtPayload:  body.UserDataInJWT,
		expiry:      now + refreshTokenValidityMS,
		timeCreated: now,
	}
	if body.EnableAntiCsrf {
		s.antiCsrf = uuid.NewString()
	}

	c.sessions[s.handle] = s

	refreshToken := c.newRefreshToken(s.handle)
	accessToken := c.mintAccessToken(s, hash1(refreshToken), "")

	c.writeJSON(w, c.sessionBody(s, accessToken, refreshToken, now))
}

func (c *fakeCore) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccessToken     string `json:"accessToken"`
		AntiCsrfToken   string `json:"antiCsrfToken"`
		DoAntiCsrfCheck bool   `json:"doAntiCsrfCheck"`
		EnableAntiCsrf  bool   `json:"enableAntiCsrf"`
	}
	c.decode(r, &body)

	claims, ok := c.parseToken(body.AccessToken)
	if !ok {
		c.writeJSON(w, map[string]any{"status": "TRY_REFRESH_TOKEN", "message": "access token is not valid"})

		return
	}

	s, ok := c.sessions[claims.SessionHandle]
	if !ok {
		c.writeJSON(w, map[string]any{"status": "UNAUTHORISED", "message": "session does not exist"})

		return
	}

	if claims.ExpiryTime <= time.Now().UnixMilli() {
		c.writeJSON(w, map[string]any{"status": "TRY_REFRESH_TOKEN", "message": "access token expired"})

		return
	}

	if body.EnableAntiCsrf && body.DoAntiCsrfCheck && claims.AntiCsrfToken != body.AntiCsrfToken {
		c.writeJSON(w, map[string]any{"status": "TRY_REFRESH_TOKEN", "message": "anti-csrf check failed"})

		return
	}

	response := map[string]any{
		"status": "OK",
		"session": map[string]any{
			"handle":        s.handle,
			"userId":        s.userID,
			"userDataInJWT": claims.UserData,
		},
		"jwtSigningPublicKey":           c.publicKeyB64,
		"jwtSigningPublicKeyExpiryTime": time.Now().UnixMilli() + 3600*1000,
	}

	// A token still referencing its parent retires the parent refresh token
	// and gets replaced by a parentless one.
	if claims.ParentRefreshTokenHash1 != "" {
		if parent, ok := c.byHash[claims.ParentRefreshTokenHash1]; ok {
			c.refreshTokens[parent].retired = true
		}

		newToken := c.mintAccessToken(s, claims.RefreshTokenHash1, "")
		response["accessToken"] = newToken
	}

	c.writeJSON(w, response)
}

func (c *fakeCore) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken   string `json:"refreshToken"`
		AntiCsrfToken  string `json:"antiCsrfToken"`
		EnableAntiCsrf bool   `json:"enableAntiCsrf"`
	}
	c.decode(r, &body)

	state, ok := c.refreshTokens[body.RefreshToken]
	if !ok {
		c.writeJSON(w, map[string]any{"status": "UNAUTHORISED", "message": "refresh token is unknown"})

		return
	}

	s, ok := c.sessions[state.handle]
	if !ok {
		c.writeJSON(w, map[string]any{"status": "UNAUTHORISED", "message": "session has been revoked"})

		return
	}

	if state.retired {
		c.writeJSON(w, map[string]any{
			"status":  "TOKEN_THEFT_DETECTED",
			"session": map[string]any{"handle": s.handle, "userId": s.userID},
		})

		return
	}

	if body.EnableAntiCsrf {
		s.antiCsrf = uuid.NewString()
	}

	now := time.Now().UnixMilli()
	refreshToken := c.newRefreshToken(s.handle)
	accessToken := c.mintAccessToken(s, hash1(refreshToken), hash1(body.RefreshToken))

	c.writeJSON(w, c.sessionBody(s, accessToken, refreshToken, now))
}

func (c *fakeCore) handleRemove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionHandles []string `json:"sessionHandles"`
		UserID         string   `json:"userId"`
	}
	c.decode(r, &body)

	handles := body.SessionHandles
	if body.UserID != "" {
		for handle, s := range c.sessions {
			if s.userID == body.UserID {
				handles = append(handles, handle)
			}
		}
	}

	revoked := []string{}

	for _, handle := range handles {
		if _, ok := c.sessions[handle]; ok {
			delete(c.sessions, handle)
			revoked = append(revoked, handle)
		}
	}

	c.writeJSON(w, map[string]any{"status": "OK", "sessionHandlesRevoked": revoked})
}

func (c *fakeCore) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")

	handles := []string{}

	for handle, s := range c.sessions {
		if s.userID == userID {
			handles = append(handles, handle)
		}
	}

	c.writeJSON(w, map[string]any{"status": "OK", "sessionHandles": handles})
}

func (c *fakeCore) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	s, ok := c.sessions[r.URL.Query().Get("sessionHandle")]
	if !ok {
		c.writeJSON(w, map[string]any{"status": "UNAUTHORISED", "message": "session does not exist"})

		return
	}

	c.writeJSON(w, map[string]any{
		"status":             "OK",
		"userId":             s.userID,
		"userDataInDatabase": s.sessionData,
		"userDataInJWT":      s.jwtPayload,
		"expiry":             s.expiry,
		"timeCreated":        s.timeCreated,
	})
}

func (c *fakeCore) handleUpdateData(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionHandle      string         `json:"sessionHandle"`
		UserDataInDatabase map[string]any `json:"userDataInDatabase"`
	}
	c.decode(r, &body)

	s, ok := c.sessions[body.SessionHandle]
	if !ok {
		c.writeJSON(w, map[string]any{"status": "UNAUTHORISED", "message": "session does not exist"})

		return
	}

	s.sessionData = body.UserDataInDatabase
	c.writeJSON(w, map[string]any{"status": "OK"})
}

func (c *fakeCore) handleUpdateJWTData(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionHandle string         `json:"sessionHandle"`
		UserDataInJWT map[string]any `json:"userDataInJWT"`
	}
	c.decode(r, &body)

	s, ok := c.sessions[body.SessionHandle]
	if !ok {
		c.writeJSON(w, map[string]any{"status": "UNAUTHORISED", "message": "session does not exist"})

		return
	}

	s.jwtPayload = body.UserDataInJWT
	c.writeJSON(w, map[string]any{"status": "OK"})
}

func (c *fakeCore) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccessToken   string          `json:"accessToken"`
		UserDataInJWT *map[string]any `json:"userDataInJWT"`
	}
	c.decode(r, &body)

	claims, ok := c.parseToken(body.AccessToken)
	if !ok {
		c.writeJSON(w, map[string]any{"status": "UNAUTHORISED", "message": "access token is not valid"})

		return
	}

	s, ok := c.sessions[claims.SessionHandle]
	if !ok {
		c.writeJSON(w, map[string]any{"status": "UNAUTHORISED", "message": "session does not exist"})

		return
	}

	if body.UserDataInJWT != nil {
		s.jwtPayload = *body.UserDataInJWT
	}

	accessToken := c.mintAccessToken(s, claims.RefreshTokenHash1, claims.ParentRefreshTokenHash1)

	c.writeJSON(w, map[string]any{
		"status": "OK",
		"session": map[string]any{
			"handle":        s.handle,
			"userId":        s.userID,
			"userDataInJWT": s.jwtPayload,
		},
		"accessToken": accessToken,
	})
}

func (c *fakeCore) sessionBody(s *fakeSession, accessToken map[string]any, refreshToken string, now int64) map[string]any {
	body := map[string]any{
		"status": "OK",
		"session": map[string]any{
			"handle":        s.handle,
			"userId":        s.userID,
			"userDataInJWT": s.jwtPayload,
		},
		"accessToken": accessToken,
		"refreshToken": map[string]any{
			"token":       refreshToken,
			"expiry":      now + refreshTokenValidityMS,
			"createdTime": now,
		},
		"idRefreshToken": map[string]any{
			"token":       uuid.NewString(),
			"expiry":      now + refreshTokenValidityMS,
			"createdTime": now,
		},
		"jwtSigningPublicKey":           c.publicKeyB64,
		"jwtSigningPublicKeyExpiryTime": now + 3600*1000,
	}

	if s.antiCsrf != "" {
		body["antiCsrfToken"] = s.antiCsrf
	}

	return body
}

func (c *fakeCore) newRefreshToken(handle string) string {
	token := uuid.NewString()
	c.refreshTokens[token] = &refreshState{handle: handle}
	c.byHash[hash1(token)] = token

	return token
}

func (c *fakeCore) mintAccessToken(s *fakeSession, refreshHash, parentHash string) map[string]any {
	now := time.Now().UnixMilli()
	expiry := now + accessTokenValidityMS

	claims := coreClaims{
		SessionHandle:           s.handle,
		UserID:                  s.userID,
		RefreshTokenHash1:       refreshHash,
		ParentRefreshTokenHash1: parentHash,
		UserData:                s.jwtPayload,
		AntiCsrfToken:           s.antiCsrf,
		ExpiryTime:              expiry,
		TimeCreated:             now,
	}

	raw, err := jwt.Signed(c.signer).Claims(claims).Serialize()
	require.NoError(c.t, err)

	return map[string]any{"token": raw, "expiry": expiry, "createdTime": now}
}

func (c *fakeCore) parseToken(raw string) (coreClaims, bool) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return coreClaims{}, false
	}

	var claims coreClaims
	if err := tok.Claims(&c.key.PublicKey, &claims); err != nil {
		return coreClaims{}, false
	}

	return claims, true
}

func (c *fakeCore) decode(r *http.Request, out any) {
	require.NoError(c.t, json.NewDecoder(r.Body).Decode(out))
}

func (c *fakeCore) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(c.t, json.NewEncoder(w).Encode(body))
}

func hash1(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}

// newTestApp initialises the SDK against the fake core with the session
// recipe configured.
func newTestApp(t *testing.T, coreURL string, cfg session.Config) (*sessiond.App, *session.Recipe) {
	t.Helper()

	app, err := sessiond.Init(sessiond.Config{
		AppInfo: sessiond.AppInfo{
			AppName:     "testapp",
			APIDomain:   "https://api.example.com",
			APIBasePath: "/auth",
		},
		Core:    sessiond.CoreConfig{ConnectionURI: coreURL},
		Recipes: []sessiond.RecipeInit{session.Init(cfg)},
	})
	require.NoError(t, err)

	recipe, err := session.FromApp(app)
	require.NoError(t, err)

	return app, recipe
}

// clientSession mirrors what a browser would hold after a response: the
// session cookies plus the anti-csrf header.
type clientSession struct {
	accessToken    string
	refreshToken   string
	idRefreshToken string
	antiCsrf       string
}

// absorb folds the Set-Cookie and session headers of a response into the
// client state, honouring deletions.
func (cs *clientSession) absorb(resp *http.Response) {
	for _, cookie := range resp.Cookies() {
		switch cookie.Name {
		case "sAccessToken":
			cs.accessToken = cookie.Value
		case "sRefreshToken":
			cs.refreshToken = cookie.Value
		case "sIdRefreshToken":
			cs.idRefreshToken = cookie.Value
		}
	}

	if antiCsrf := resp.Header.Get("anti-csrf"); antiCsrf != "" {
		cs.antiCsrf = antiCsrf
	}
}

// request builds a request carrying the client's current session state.
func (cs *clientSession) request(method, url string) *http.Request {
	req, _ := http.NewRequest(method, url, nil)

	if cs.accessToken != "" {
		req.AddCookie(&http.Cookie{Name: "sAccessToken", Value: cs.accessToken})
	}

	if cs.refreshToken != "" {
		req.AddCookie(&http.Cookie{Name: "sRefreshToken", Value: cs.refreshToken})
	}

	if cs.idRefreshToken != "" {
		req.AddCookie(&http.Cookie{Name: "sIdRefreshToken", Value: cs.idRefreshToken})
	}

	if cs.antiCsrf != "" {
		req.Header.Set("anti-csrf", cs.antiCsrf)
	}

	return req
}

func responseCookie(resp *http.Response, name string) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}

	return nil
}
