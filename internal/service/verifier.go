package service

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/thalora/thalora-auth/pkg/config"
)

// Verifier failure classes. The ceremony engine folds these into a generic
// client-facing error; the distinction exists for logs and tests.
var (
	ErrMalformedPayload   = errors.New("malformed credential payload")
	ErrChallengeMismatch  = errors.New("challenge mismatch")
	ErrOriginMismatch     = errors.New("origin mismatch")
	ErrSignatureInvalid   = errors.New("signature verification failed")
	ErrCounterReplay      = errors.New("signature counter replay")
	ErrUserHandleMismatch = errors.New("user handle mismatch")
)

// RegistrationExpectation carries the server-side state a registration
// response is checked against.
type RegistrationExpectation struct {
	// Challenge is the base64url (unpadded) challenge issued at begin time.
	Challenge  string
	UserHandle []byte
	Username   string
}

// VerifiedCredential is the outcome of a successful registration ceremony.
type VerifiedCredential struct {
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
}

// LoginExpectation carries the stored credential a login assertion is
// checked against.
type LoginExpectation struct {
	Challenge    string
	UserHandle   []byte
	Username     string
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
}

// VerifiedAssertion is the outcome of a successful login ceremony.
type VerifiedAssertion struct {
	// SignCount is the counter value to persist. Equal to the stored value
	// only when the authenticator never increments (both zero).
	SignCount uint32
}

// Verifier checks authenticator responses against issued challenges. It is
// pure: expectations go in, a verdict comes out, nothing is stored.
type Verifier interface {
	VerifyRegistration(expect *RegistrationExpectation, payload *CredentialPayload) (*VerifiedCredential, error)
	VerifyLogin(expect *LoginExpectation, payload *CredentialPayload) (*VerifiedAssertion, error)
}

// webauthnVerifier performs full cryptographic verification via go-webauthn.
type webauthnVerifier struct {
	webauthn *webauthn.WebAuthn
	origin   string
}

// NewWebauthnVerifier creates the production verifier.
func NewWebauthnVerifier(cfg *config.Config) (Verifier, error) {
	wconfig := &webauthn.Config{
		RPDisplayName: cfg.Server.RPName,
		RPID:          cfg.Server.RPID,
		RPOrigins:     []string{cfg.Server.RPOrigin},
	}

	wa, err := webauthn.New(wconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn: %w", err)
	}

	return &webauthnVerifier{webauthn: wa, origin: cfg.Server.RPOrigin}, nil
}

// verifierUser adapts the expectation to the webauthn.User interface.
type verifierUser struct {
	handle      []byte
	name        string
	credentials []webauthn.Credential
}

func (u *verifierUser) WebAuthnID() []byte                         { return u.handle }
func (u *verifierUser) WebAuthnName() string                       { return u.name }
func (u *verifierUser) WebAuthnDisplayName() string                { return u.name }
func (u *verifierUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func (v *webauthnVerifier) VerifyRegistration(expect *RegistrationExpectation, payload *CredentialPayload) (*VerifiedCredential, error) {
	if payload.Response.AttestationObject == "" {
		return nil, fmt.Errorf("%w: missing attestation object", ErrMalformedPayload)
	}

	if err := v.checkClientData(payload.Response.ClientDataJSON, "webauthn.create", expect.Challenge); err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(
		bytes.NewReader(payload.standardJSON()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	user := &verifierUser{handle: expect.UserHandle, name: expect.Username}
	session := webauthn.SessionData{
		Challenge:        expect.Challenge,
		UserID:           expect.UserHandle,
		UserVerification: protocol.VerificationPreferred,
		// The algorithms advertised in BeginRegistration; CreateCredential
		// rejects any response whose key algorithm is not listed here.
		CredParams: []protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
		},
	}

	credential, err := v.webauthn.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	return &VerifiedCredential{
		CredentialID: credential.ID,
		PublicKey:    credential.PublicKey,
		SignCount:    credential.Authenticator.SignCount,
	}, nil
}

func (v *webauthnVerifier) VerifyLogin(expect *LoginExpectation, payload *CredentialPayload) (*VerifiedAssertion, error) {
	if payload.Response.AuthenticatorData == "" || payload.Response.Signature == "" {
		return nil, fmt.Errorf("%w: missing assertion fields", ErrMalformedPayload)
	}

	if err := v.checkClientData(payload.Response.ClientDataJSON, "webauthn.get", expect.Challenge); err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(
		bytes.NewReader(payload.standardJSON()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if len(parsed.Response.UserHandle) > 0 && !bytes.Equal(parsed.Response.UserHandle, expect.UserHandle) {
		return nil, ErrUserHandleMismatch
	}

	user := &verifierUser{
		handle: expect.UserHandle,
		name:   expect.Username,
		credentials: []webauthn.Credential{
			{
				ID:        expect.CredentialID,
				PublicKey: expect.PublicKey,
				Authenticator: webauthn.Authenticator{
					SignCount: expect.SignCount,
				},
			},
		},
	}
	session := webauthn.SessionData{
		Challenge:        expect.Challenge,
		UserID:           expect.UserHandle,
		UserVerification: protocol.VerificationPreferred,
	}

	credential, err := v.webauthn.ValidateLogin(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	// ValidateLogin does not fail on a regressed or repeated counter, it
	// only flags it. A cloned authenticator fails closed here. A counter
	// that stays at zero on both sides is allowed: some authenticators
	// never increment.
	if credential.Authenticator.CloneWarning {
		return nil, ErrCounterReplay
	}

	return &VerifiedAssertion{SignCount: credential.Authenticator.SignCount}, nil
}

// checkClientData performs the explicit type/challenge/origin checks before
// handing off to the library, so failures classify precisely.
func (v *webauthnVerifier) checkClientData(clientDataJSON, ceremonyType, wantChallenge string) error {
	raw, err := decodeBase64url(clientDataJSON)
	if err != nil {
		return fmt.Errorf("%w: bad client data encoding", ErrMalformedPayload)
	}

	var clientData struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Origin    string `json:"origin"`
	}
	if err := json.Unmarshal(raw, &clientData); err != nil {
		return fmt.Errorf("%w: bad client data: %v", ErrMalformedPayload, err)
	}

	if clientData.Type != ceremonyType {
		return fmt.Errorf("%w: unexpected ceremony type %q", ErrMalformedPayload, clientData.Type)
	}

	gotChallenge, err := decodeBase64url(clientData.Challenge)
	if err != nil {
		return fmt.Errorf("%w: bad challenge encoding", ErrMalformedPayload)
	}
	wantBytes, err := decodeBase64url(wantChallenge)
	if err != nil {
		return fmt.Errorf("%w: bad expected challenge", ErrMalformedPayload)
	}
	if !bytes.Equal(gotChallenge, wantBytes) {
		return ErrChallengeMismatch
	}

	if clientData.Origin != v.origin {
		return ErrOriginMismatch
	}

	return nil
}

// stubVerifier accepts syntactically well-formed payloads without touching
// key material. Selected only when security.test_mode is on; every other
// ceremony rule (single-use challenges, expiry, counter persistence) still
// applies upstream.
type stubVerifier struct{}

// NewStubVerifier creates the test-mode verifier.
func NewStubVerifier() Verifier {
	return &stubVerifier{}
}

func (v *stubVerifier) VerifyRegistration(expect *RegistrationExpectation, payload *CredentialPayload) (*VerifiedCredential, error) {
	credentialID, err := v.checkShape(payload)
	if err != nil {
		return nil, err
	}

	return &VerifiedCredential{
		CredentialID: credentialID,
		PublicKey:    append([]byte("stub-key:"), credentialID...),
		SignCount:    0,
	}, nil
}

func (v *stubVerifier) VerifyLogin(expect *LoginExpectation, payload *CredentialPayload) (*VerifiedAssertion, error) {
	if _, err := v.checkShape(payload); err != nil {
		return nil, err
	}

	// Behave like an authenticator that increments on every assertion.
	return &VerifiedAssertion{SignCount: expect.SignCount + 1}, nil
}

func (v *stubVerifier) checkShape(payload *CredentialPayload) ([]byte, error) {
	if payload.Type != "public-key" {
		return nil, fmt.Errorf("%w: unexpected credential type %q", ErrMalformedPayload, payload.Type)
	}

	rawID := payload.RawID
	if rawID == "" {
		rawID = payload.ID
	}
	credentialID, err := decodeBase64url(rawID)
	if err != nil || len(credentialID) == 0 {
		return nil, fmt.Errorf("%w: bad credential id", ErrMalformedPayload)
	}

	if payload.Response.ClientDataJSON != "" {
		raw, err := decodeBase64url(payload.Response.ClientDataJSON)
		if err != nil {
			return nil, fmt.Errorf("%w: bad client data encoding", ErrMalformedPayload)
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: client data is not JSON", ErrMalformedPayload)
		}
	}

	return credentialID, nil
}

// decodeBase64url accepts both padded and unpadded base64url input; the
// canonical wire form is unpadded.
func decodeBase64url(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func encodeBase64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
