package auth

import (
	"chat-service/internal/logger"
	"chat-service/pkg/validation"
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey string

// UserContextKey holds the resolved user ID in the request context
const UserContextKey contextKey = "user"

// LoginRequest is the JSON form of the login body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse follows the OAuth2 password-grant response shape
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// sendError sends a standardized JSON error response
func sendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}

// UserFromContext returns the user ID stored by AuthMiddleware
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserContextKey).(string)
	return userID, ok && userID != ""
}

// AuthMiddleware resolves the bearer token and stores the user ID in the request context
func AuthMiddleware(resolver Resolver, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			sendError(w, http.StatusUnauthorized, "Missing authorization header", nil)
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			sendError(w, http.StatusUnauthorized, "Invalid authorization header format", nil)
			return
		}

		userID, err := resolver.Resolve(token)
		if err != nil {
			logger.Log.WithError(err).Debug("Token rejected")
			sendError(w, http.StatusUnauthorized, "Invalid token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// LoginHandler authenticates a user and returns a bearer token
type LoginHandler struct {
	users     Authenticator
	issuer    Issuer
	validator *validation.AuthRequestValidator
}

// NewLoginHandler creates a new LoginHandler
func NewLoginHandler(users Authenticator, issuer Issuer) *LoginHandler {
	return &LoginHandler{
		users:     users,
		issuer:    issuer,
		validator: validation.NewAuthRequestValidator(),
	}
}

// HandleToken accepts form-encoded or JSON credentials
func (h *LoginHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLogin(r)
	if err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.validator.ValidateLoginRequest(req.Username, req.Password); err != nil {
		sendError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	log := logger.Log.WithFields(logrus.Fields{"username": req.Username})

	if err := h.users.Authenticate(req.Username, req.Password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			log.Warn("Login failed: invalid credentials")
			sendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
			return
		}
		log.WithError(err).Error("Login failed")
		sendError(w, http.StatusInternalServerError, "Error verifying credentials", nil)
		return
	}

	token, err := h.issuer.IssueToken(req.Username)
	if err != nil {
		log.WithError(err).Error("Error generating token")
		sendError(w, http.StatusInternalServerError, "Error generating token", nil)
		return
	}

	log.Info("User logged in successfully")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TokenResponse{AccessToken: token, TokenType: "bearer"})
}

func decodeLogin(r *http.Request) (LoginRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req LoginRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}

	if err := r.ParseForm(); err != nil {
		return LoginRequest{}, err
	}
	return LoginRequest{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	}, nil
}
