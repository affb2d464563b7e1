// auth.go — обработчики /auth endpoints: регистрация, вход, обновление токенов.
package handlers

import (
	"net/http"

	apierrors "github.com/anhhtv56/test-assistant/internal/api/errors"
	"github.com/anhhtv56/test-assistant/internal/service"
)

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type authResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	TokenType    string       `json:"tokenType"`
	ExpiresIn    int          `json:"expiresIn"`
}

func mapAuthResult(res *service.AuthResult) authResponse {
	return authResponse{
		User: userResponse{
			ID:    res.User.ID,
			Email: res.User.Email,
			Name:  res.User.Name,
		},
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    res.Tokens.ExpiresIn,
	}
}

// Register — POST /auth/register.
func (h *APIHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.auth.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apierrors.WriteData(w, http.StatusCreated, mapAuthResult(res))
}

// Login — POST /auth/login.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apierrors.WriteData(w, http.StatusOK, mapAuthResult(res))
}

// Refresh — POST /auth/refresh.
func (h *APIHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apierrors.WriteData(w, http.StatusOK, mapAuthResult(res))
}
