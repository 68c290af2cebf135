package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"clinica.app/internal/auth"
)

// RemoteProvider talks to a hosted GoTrue-compatible auth API.
type RemoteProvider struct {
	client *resty.Client
	apiKey string
	log    *zap.Logger
}

type remoteUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type remoteSession struct {
	AccessToken string     `json:"access_token"`
	User        remoteUser `json:"user"`
}

type remoteError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
}

func (e remoteError) message() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Error} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}

// NewRemoteProvider returns a client for baseURL authenticated with apiKey.
func NewRemoteProvider(baseURL, apiKey string, log *zap.Logger) *RemoteProvider {
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("apikey", apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &RemoteProvider{client: client, apiKey: apiKey, log: log}
}

func (p *RemoteProvider) VerifyToken(ctx context.Context, token string) (Subject, error) {
	if strings.TrimSpace(token) == "" {
		return Subject{}, auth.ErrUnauthenticated
	}
	var user remoteUser
	var apiErr remoteError
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&user).
		SetError(&apiErr).
		Get("/auth/v1/user")
	if err != nil {
		return Subject{}, fmt.Errorf("identity provider: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return Subject{}, auth.ErrUnauthenticated
	default:
		p.log.Warn("identity provider rejected token lookup",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", apiErr.message()),
		)
		return Subject{}, fmt.Errorf("identity provider: unexpected status %d", resp.StatusCode())
	}
	if user.ID == "" {
		return Subject{}, auth.ErrUnauthenticated
	}
	return Subject{ID: user.ID, Email: auth.NormalizeEmail(user.Email)}, nil
}

func (p *RemoteProvider) SignInWithPassword(ctx context.Context, email, password string) (Subject, error) {
	var sess remoteSession
	var apiErr remoteError
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": auth.NormalizeEmail(email), "password": password}).
		SetResult(&sess).
		SetError(&apiErr).
		Post("/auth/v1/token")
	if err != nil {
		return Subject{}, fmt.Errorf("identity provider: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized:
		return Subject{}, auth.ErrInvalidCredentials
	default:
		p.log.Warn("identity provider sign-in failed",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", apiErr.message()),
		)
		return Subject{}, fmt.Errorf("identity provider: unexpected status %d", resp.StatusCode())
	}
	if sess.User.ID == "" {
		return Subject{}, errors.New("identity provider: sign-in response without user")
	}
	return Subject{ID: sess.User.ID, Email: auth.NormalizeEmail(sess.User.Email)}, nil
}

func (p *RemoteProvider) CreateAccount(ctx context.Context, email, password string) (Subject, error) {
	var user remoteUser
	var apiErr remoteError
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.apiKey).
		SetBody(map[string]any{
			"email":         auth.NormalizeEmail(email),
			"password":      password,
			"email_confirm": true,
		}).
		SetResult(&user).
		SetError(&apiErr).
		Post("/auth/v1/admin/users")
	if err != nil {
		return Subject{}, fmt.Errorf("identity provider: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return Subject{}, fmt.Errorf("%w: %s", auth.ErrConflict, apiErr.message())
	case http.StatusBadRequest:
		return Subject{}, fmt.Errorf("%w: %s", auth.ErrInvalidInput, apiErr.message())
	default:
		return Subject{}, fmt.Errorf("identity provider: unexpected status %d", resp.StatusCode())
	}
	return Subject{ID: user.ID, Email: auth.NormalizeEmail(user.Email)}, nil
}

func (p *RemoteProvider) DeleteAccount(ctx context.Context, subjectID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return nil
	}
	var apiErr remoteError
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(p.apiKey).
		SetPathParam("id", subjectID).
		SetError(&apiErr).
		Delete("/auth/v1/admin/users/{id}")
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		p.log.Warn("identity provider account delete failed",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("msg", apiErr.message()),
		)
		return fmt.Errorf("identity provider: unexpected status %d", resp.StatusCode())
	}
}
