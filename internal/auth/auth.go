package auth

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"planter-backend/internal/apperr"
	"planter-backend/internal/model"
	"planter-backend/internal/store"
)

// CredentialVerifier checks a raw password against a stored hash.
type CredentialVerifier interface {
	Verify(raw, hash string) bool
}

// BcryptVerifier verifies bcrypt hashes.
type BcryptVerifier struct{}

// Verify reports whether raw matches the bcrypt hash.
func (BcryptVerifier) Verify(raw, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// HashPassword returns the bcrypt hash of raw.
func HashPassword(raw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Authenticator resolves user credentials and device API keys.
type Authenticator struct {
	store    store.Store
	verifier CredentialVerifier
}

// NewAuthenticator creates an Authenticator. A nil verifier defaults to bcrypt.
func NewAuthenticator(s store.Store, verifier CredentialVerifier) *Authenticator {
	if verifier == nil {
		verifier = BcryptVerifier{}
	}
	return &Authenticator{store: s, verifier: verifier}
}

// VerifyUser returns the user when name and password match.
// Unknown users and wrong passwords are both Unauthorized.
func (a *Authenticator) VerifyUser(ctx context.Context, name, password string) (*model.User, error) {
	if strings.TrimSpace(name) == "" || password == "" {
		return nil, apperr.Unauthorized("credentials required")
	}
	user, err := a.store.FindUserByName(ctx, name)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Unauthorized("invalid credentials")
		}
		return nil, err
	}
	if !a.verifier.Verify(password, user.PasswordHash) {
		return nil, apperr.Unauthorized("invalid credentials")
	}
	return user, nil
}

// ResolveDevice returns the plot owning apiKey.
func (a *Authenticator) ResolveDevice(ctx context.Context, apiKey string) (*model.Plot, error) {
	return PlotForAPIKey(ctx, a.store, apiKey)
}

// PlotForAPIKey resolves a device API key against s. An empty or unknown key is Unauthorized.
func PlotForAPIKey(ctx context.Context, s store.Store, apiKey string) (*model.Plot, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, apperr.Unauthorized("api key required")
	}
	plot, err := s.FindPlotByAPIKey(ctx, apiKey)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Unauthorized("unknown api key")
		}
		return nil, err
	}
	return plot, nil
}

// PlotsForUser lists the plots owned by the user with the given external uuid.
func (a *Authenticator) PlotsForUser(ctx context.Context, userUUID string) ([]model.Plot, error) {
	user, err := a.store.FindUserByUUID(ctx, userUUID)
	if err != nil {
		return nil, err
	}
	return a.store.ListPlotsForUser(ctx, user.ID)
}
