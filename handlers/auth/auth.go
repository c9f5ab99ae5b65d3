package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"canvas-collab/core"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	stateCookieName = "oauthstate"
	stateTTL        = 10 * time.Minute
	defaultTokenTTL = 7 * 24 * time.Hour
)

var (
	loginHandler    http.HandlerFunc
	callbackHandler http.HandlerFunc

	githubOauthConfig *oauth2.Config
	oidcOauthConfig   *oauth2.Config
	oidcProvider      *oidc.Provider
	verifier          *oidc.IDTokenVerifier

	jwtSecret []byte
	tokenTTL  = defaultTokenTTL
)

// AppClaims is the JWT payload handed to clients after login. Subject
// is the stable user id every project membership is keyed on.
type AppClaims struct {
	jwt.RegisteredClaims
	Login     string `json:"login"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl"`
	Name      string `json:"name"`
}

type oidcClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
	Sub               string `json:"sub"`
}

// InitAuth picks the identity provider from the environment. OIDC wins
// over GitHub when both are configured.
func InitAuth() {
	oidcConfigured := os.Getenv("OIDC_ISSUER_URL") != "" && os.Getenv("OIDC_CLIENT_ID") != ""
	githubConfigured := os.Getenv("GITHUB_CLIENT_ID") != "" && os.Getenv("GITHUB_CLIENT_SECRET") != ""

	switch {
	case oidcConfigured:
		logrus.Info("Initializing OIDC authentication provider.")
		initOIDC()
		loginHandler = handleOIDCLogin
		callbackHandler = handleOIDCCallback
	case githubConfigured:
		logrus.Info("Initializing GitHub authentication provider.")
		initGitHub()
		loginHandler = handleGitHubLogin
		callbackHandler = handleGitHubCallback
	default:
		logrus.Warn("No authentication provider configured.")
		notConfigured := func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		}
		loginHandler = notConfigured
		callbackHandler = notConfigured
	}

	jwtSecret = []byte(os.Getenv("JWT_SECRET"))
	if len(jwtSecret) == 0 {
		logrus.Warn("JWT_SECRET is not set. Authentication will not work.")
	}
	if v := os.Getenv("JWT_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil || ttl <= 0 {
			logrus.WithField("value", v).Warn("Invalid JWT_TTL, keeping default")
		} else {
			tokenTTL = ttl
		}
	}
}

func HandleLogin(w http.ResponseWriter, r *http.Request) {
	if loginHandler == nil {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}
	loginHandler(w, r)
}

func HandleCallback(w http.ResponseWriter, r *http.Request) {
	if callbackHandler == nil {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}
	callbackHandler(w, r)
}

func initGitHub() {
	githubOauthConfig = &oauth2.Config{
		ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
		ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("GITHUB_REDIRECT_URL"),
		Scopes:       []string{"read:user", "user:email"},
		Endpoint:     github.Endpoint,
	}
}

func initOIDC() {
	providerURL := os.Getenv("OIDC_ISSUER_URL")
	clientID := os.Getenv("OIDC_CLIENT_ID")
	clientSecret := os.Getenv("OIDC_CLIENT_SECRET")
	redirectURL := os.Getenv("OIDC_REDIRECT_URL")

	if providerURL == "" || clientID == "" || clientSecret == "" {
		logrus.Warn("OIDC credentials are not set. OIDC authentication routes will not work.")
		return
	}

	var err error
	oidcProvider, err = oidc.NewProvider(context.Background(), providerURL)
	if err != nil {
		logrus.Errorf("Failed to create OIDC provider: %s", err.Error())
		return
	}

	oidcOauthConfig = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		Endpoint:     oidcProvider.Endpoint(),
	}
	verifier = oidcProvider.Verifier(&oidc.Config{ClientID: clientID})

	logrus.Info("OIDC provider initialized")
}

func setStateCookie(w http.ResponseWriter, r *http.Request) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := hex.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(stateTTL),
		HttpOnly: true,
		Secure:   r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

// checkState compares the callback's state parameter against the cookie
// set at login time.
func checkState(r *http.Request) bool {
	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		return false
	}
	state := r.FormValue("state")
	return state != "" && state == cookie.Value
}

func failLogin(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if err != nil {
		logrus.Errorf("%s: %s", msg, err.Error())
	} else {
		logrus.Error(msg)
	}
	http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
}

func handleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if githubOauthConfig == nil || githubOauthConfig.ClientID == "" {
		http.Error(w, "GitHub OAuth is not configured", http.StatusInternalServerError)
		return
	}
	state, err := setStateCookie(w, r)
	if err != nil {
		http.Error(w, "Failed to generate login state", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, githubOauthConfig.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if githubOauthConfig == nil || githubOauthConfig.ClientID == "" {
		http.Error(w, "GitHub OAuth is not configured", http.StatusInternalServerError)
		return
	}
	if !checkState(r) {
		failLogin(w, r, "oauth state mismatch", nil)
		return
	}

	token, err := githubOauthConfig.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		failLogin(w, r, "failed to exchange token", err)
		return
	}

	client := githubOauthConfig.Client(r.Context(), token)
	resp, err := client.Get("https://api.github.com/user")
	if err != nil {
		failLogin(w, r, "failed to get user from github", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		failLogin(w, r, "failed to read github response body", err)
		return
	}

	var githubUser struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
		Name      string `json:"name"`
		Email     string `json:"email"`
	}
	if err := json.Unmarshal(body, &githubUser); err != nil {
		failLogin(w, r, "failed to unmarshal github user", err)
		return
	}

	user := &core.User{
		Subject:   fmt.Sprintf("github:%d", githubUser.ID),
		Login:     githubUser.Login,
		Email:     githubUser.Email,
		AvatarURL: githubUser.AvatarURL,
		Name:      githubUser.Name,
	}
	issueToken(w, r, user)
}

func handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	if oidcOauthConfig == nil {
		http.Error(w, "OIDC is not configured", http.StatusInternalServerError)
		return
	}
	state, err := setStateCookie(w, r)
	if err != nil {
		http.Error(w, "Failed to generate login state", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, oidcOauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline), http.StatusTemporaryRedirect)
}

func handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	if oidcOauthConfig == nil || verifier == nil {
		http.Error(w, "OIDC is not configured", http.StatusInternalServerError)
		return
	}
	if !checkState(r) {
		failLogin(w, r, "oauth state mismatch", nil)
		return
	}

	code := r.FormValue("code")
	if code == "" {
		failLogin(w, r, "no code in callback", nil)
		return
	}

	token, err := oidcOauthConfig.Exchange(r.Context(), code)
	if err != nil {
		failLogin(w, r, "failed to exchange token", err)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		failLogin(w, r, "no id_token in token response", nil)
		return
	}

	idToken, err := verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		failLogin(w, r, "failed to verify ID token", err)
		return
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		failLogin(w, r, "failed to extract claims from ID token", err)
		return
	}

	user := &core.User{
		Subject:   claims.Sub,
		Login:     claims.PreferredUsername,
		Email:     claims.Email,
		AvatarURL: claims.Picture,
		Name:      claims.Name,
	}
	if user.Login == "" && user.Email != "" {
		user.Login = user.Email
	}
	issueToken(w, r, user)
}

func issueToken(w http.ResponseWriter, r *http.Request, user *core.User) {
	jwtToken, err := createJWT(user)
	if err != nil {
		failLogin(w, r, "failed to create JWT", err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/?token=%s", jwtToken), http.StatusTemporaryRedirect)
}

func createJWT(user *core.User) (string, error) {
	now := time.Now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Login:     user.Login,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		Name:      user.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func ParseJWT(tokenString string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
