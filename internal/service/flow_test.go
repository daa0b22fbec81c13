package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/descope/virtualwebauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thalora/thalora-auth/internal/storage/memory"
)

// Full-crypto ceremony tests: a virtual authenticator plays the browser side
// against the production verifier.

func setupRealService(t *testing.T) (*PasskeyService, virtualwebauthn.RelyingParty) {
	t.Helper()

	cfg := testConfig(false)
	verifier, err := NewWebauthnVerifier(cfg)
	require.NoError(t, err)

	svc := NewPasskeyService(memory.NewStore(), cfg, zap.NewNop(), verifier, NewSessionIssuer(&cfg.JWT))

	rp := virtualwebauthn.RelyingParty{
		Name:   cfg.Server.RPName,
		ID:     cfg.Server.RPID,
		Origin: cfg.Server.RPOrigin,
	}
	return svc, rp
}

// attestationOptionsJSON re-encodes registration options into the W3C
// camelCase shape the virtual authenticator parses.
func attestationOptionsJSON(t *testing.T, options *RegistrationOptions) string {
	t.Helper()

	params := make([]map[string]any, 0, len(options.PubKeyCredParams))
	for _, p := range options.PubKeyCredParams {
		params = append(params, map[string]any{"type": p.Type, "alg": p.Alg})
	}

	doc, err := json.Marshal(map[string]any{
		"publicKey": map[string]any{
			"challenge": options.Challenge,
			"rp":        map[string]any{"id": options.RP.ID, "name": options.RP.Name},
			"user": map[string]any{
				"id":          options.User.ID,
				"name":        options.User.Name,
				"displayName": options.User.DisplayName,
			},
			"pubKeyCredParams": params,
			"attestation":      options.Attestation,
		},
	})
	require.NoError(t, err)
	return string(doc)
}

func assertionOptionsJSON(t *testing.T, options *LoginOptions) string {
	t.Helper()

	allowed := make([]map[string]any, 0, len(options.AllowCredentials))
	for _, c := range options.AllowCredentials {
		allowed = append(allowed, map[string]any{"type": c.Type, "id": c.ID})
	}

	doc, err := json.Marshal(map[string]any{
		"publicKey": map[string]any{
			"challenge":        options.Challenge,
			"rpId":             options.RPID,
			"allowCredentials": allowed,
		},
	})
	require.NoError(t, err)
	return string(doc)
}

// fromBrowserJSON maps the authenticator's camelCase response onto the
// snake_case wire payload the API accepts.
func fromBrowserJSON(t *testing.T, browserJSON string) *CredentialPayload {
	t.Helper()

	var resp struct {
		ID       string `json:"id"`
		RawID    string `json:"rawId"`
		Type     string `json:"type"`
		Response struct {
			ClientDataJSON    string `json:"clientDataJSON"`
			AttestationObject string `json:"attestationObject"`
			AuthenticatorData string `json:"authenticatorData"`
			Signature         string `json:"signature"`
			UserHandle        string `json:"userHandle"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal([]byte(browserJSON), &resp))

	return &CredentialPayload{
		ID:    resp.ID,
		RawID: resp.RawID,
		Type:  resp.Type,
		Response: AuthenticatorResponse{
			ClientDataJSON:    resp.Response.ClientDataJSON,
			AttestationObject: resp.Response.AttestationObject,
			AuthenticatorData: resp.Response.AuthenticatorData,
			Signature:         resp.Response.Signature,
			UserHandle:        resp.Response.UserHandle,
		},
	}
}

// registerWithAuthenticator drives a full registration ceremony.
func registerWithAuthenticator(t *testing.T, svc *PasskeyService, rp virtualwebauthn.RelyingParty,
	auth *virtualwebauthn.Authenticator, cred *virtualwebauthn.Credential, username, email string) *AuthResult {
	t.Helper()
	ctx := context.Background()

	options, err := svc.BeginRegistration(ctx, username, email)
	require.NoError(t, err)

	parsed, err := virtualwebauthn.ParseAttestationOptions(attestationOptionsJSON(t, options))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(rp, *auth, *cred, *parsed)

	result, err := svc.FinishRegistration(ctx, options.UserID, fromBrowserJSON(t, attestation))
	require.NoError(t, err)

	auth.AddCredential(*cred)
	return result
}

// loginWithAuthenticator drives a full login ceremony. The caller manages
// cred.Counter; the virtual authenticator signs whatever value it holds.
func loginWithAuthenticator(t *testing.T, svc *PasskeyService, rp virtualwebauthn.RelyingParty,
	auth *virtualwebauthn.Authenticator, cred *virtualwebauthn.Credential, username string) (*AuthResult, error) {
	t.Helper()
	ctx := context.Background()

	options, err := svc.BeginLogin(ctx, username)
	require.NoError(t, err)

	parsed, err := virtualwebauthn.ParseAssertionOptions(assertionOptionsJSON(t, options))
	require.NoError(t, err)

	assertion := virtualwebauthn.CreateAssertionResponse(rp, *auth, *cred, *parsed)

	return svc.FinishLogin(ctx, username, fromBrowserJSON(t, assertion))
}

func TestRealCrypto_RegistrationAndLogin(t *testing.T) {
	svc, rp := setupRealService(t)
	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	result := registerWithAuthenticator(t, svc, rp, &auth, &cred, "alice", "alice@example.com")
	require.NotNil(t, result.User)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "alice", result.User.Username)
	assert.NotEmpty(t, result.User.CredentialID)
	assert.NotEmpty(t, result.User.PublicKey)

	cred.Counter++
	login, err := loginWithAuthenticator(t, svc, rp, &auth, &cred, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, uint32(1), login.User.SignCount)
}

func TestRealCrypto_CounterProgression(t *testing.T) {
	svc, rp := setupRealService(t)
	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	registerWithAuthenticator(t, svc, rp, &auth, &cred, "bob", "bob@example.com")

	for i := uint32(1); i <= 3; i++ {
		cred.Counter++
		login, err := loginWithAuthenticator(t, svc, rp, &auth, &cred, "bob")
		require.NoError(t, err)
		assert.Equal(t, i, login.User.SignCount)
	}
}

func TestRealCrypto_ClonedAuthenticatorRejected(t *testing.T) {
	svc, rp := setupRealService(t)
	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	registerWithAuthenticator(t, svc, rp, &auth, &cred, "carol", "carol@example.com")

	cred.Counter++
	_, err := loginWithAuthenticator(t, svc, rp, &auth, &cred, "carol")
	require.NoError(t, err)

	// A clone reuses the counter value the server already saw.
	_, err = loginWithAuthenticator(t, svc, rp, &auth, &cred, "carol")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCredential), "got %v", err)
}

func TestRealCrypto_WrongKeyRejected(t *testing.T) {
	svc, rp := setupRealService(t)
	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	registerWithAuthenticator(t, svc, rp, &auth, &cred, "dave", "dave@example.com")

	// Impostor with its own key but the victim's credential ID.
	impostor := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	impostor.ID = cred.ID
	impostor.Counter = cred.Counter + 1

	_, err := loginWithAuthenticator(t, svc, rp, &auth, &impostor, "dave")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCredential), "got %v", err)
}

func TestRealCrypto_StaleOptionsRejected(t *testing.T) {
	svc, rp := setupRealService(t)
	auth := virtualwebauthn.NewAuthenticator()
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	registerWithAuthenticator(t, svc, rp, &auth, &cred, "erin", "erin@example.com")
	ctx := context.Background()

	// Answer the displaced first challenge after a second begin.
	stale, err := svc.BeginLogin(ctx, "erin")
	require.NoError(t, err)
	_, err = svc.BeginLogin(ctx, "erin")
	require.NoError(t, err)

	parsed, err := virtualwebauthn.ParseAssertionOptions(assertionOptionsJSON(t, stale))
	require.NoError(t, err)

	cred.Counter++
	assertion := virtualwebauthn.CreateAssertionResponse(rp, auth, cred, *parsed)

	_, err = svc.FinishLogin(ctx, "erin", fromBrowserJSON(t, assertion))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCredential), "got %v", err)
}
