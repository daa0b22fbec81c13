package service

import (
	"encoding/json"
)

// Wire types for the ceremony endpoints. Field names follow the original
// frontend contract: snake_case keys, base64url (unpadded) binary fields.

// RelyingParty identifies this server to the authenticator.
type RelyingParty struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserEntity describes the account being registered.
type UserEntity struct {
	ID          string `json:"id"` // base64url user handle
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// CredentialParameter names an accepted signature algorithm.
type CredentialParameter struct {
	Alg  int    `json:"alg"`
	Type string `json:"type"`
}

// AuthenticatorSelection constrains authenticator choice.
type AuthenticatorSelection struct {
	AuthenticatorAttachment string `json:"authenticator_attachment,omitempty"`
	RequireResidentKey      bool   `json:"require_resident_key"`
	ResidentKey             string `json:"resident_key"`
	UserVerification        string `json:"user_verification"`
}

// RegistrationOptions is the response to a registration begin call.
type RegistrationOptions struct {
	Challenge              string                 `json:"challenge"`
	UserID                 string                 `json:"user_id"`
	Timeout                int                    `json:"timeout"`
	RP                     RelyingParty           `json:"rp"`
	User                   UserEntity             `json:"user"`
	PubKeyCredParams       []CredentialParameter  `json:"pub_key_cred_params"`
	AuthenticatorSelection AuthenticatorSelection `json:"authenticator_selection"`
	Attestation            string                 `json:"attestation"`
}

// AllowedCredential names a credential usable for a login ceremony.
type AllowedCredential struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Transports []string `json:"transports,omitempty"`
}

// LoginOptions is the response to a login begin call.
type LoginOptions struct {
	Challenge        string              `json:"challenge"`
	Timeout          int                 `json:"timeout"`
	RPID             string              `json:"rp_id"`
	AllowCredentials []AllowedCredential `json:"allow_credentials"`
	UserVerification string              `json:"user_verification"`
}

// AuthenticatorResponse carries the authenticator output. Attestation
// fields are set for registration, assertion fields for login.
type AuthenticatorResponse struct {
	ClientDataJSON    string `json:"client_data_json"`
	AttestationObject string `json:"attestation_object,omitempty"`
	AuthenticatorData string `json:"authenticator_data,omitempty"`
	Signature         string `json:"signature,omitempty"`
	UserHandle        string `json:"user_handle,omitempty"`
}

// CredentialPayload is the client's response to a ceremony challenge.
type CredentialPayload struct {
	ID       string                `json:"id"`
	RawID    string                `json:"raw_id"`
	Type     string                `json:"type"`
	Response AuthenticatorResponse `json:"response"`
}

// standardJSON re-encodes the payload into the W3C camelCase shape the
// go-webauthn parsers expect, normalizing binary fields to unpadded
// base64url along the way.
func (p *CredentialPayload) standardJSON() []byte {
	id := p.ID
	rawID := p.RawID
	if rawID == "" {
		rawID = id
	}
	if id == "" {
		id = rawID
	}

	response := map[string]any{
		"clientDataJSON": normalizeB64(p.Response.ClientDataJSON),
	}
	if p.Response.AttestationObject != "" {
		response["attestationObject"] = normalizeB64(p.Response.AttestationObject)
	}
	if p.Response.AuthenticatorData != "" {
		response["authenticatorData"] = normalizeB64(p.Response.AuthenticatorData)
	}
	if p.Response.Signature != "" {
		response["signature"] = normalizeB64(p.Response.Signature)
	}
	if p.Response.UserHandle != "" {
		response["userHandle"] = normalizeB64(p.Response.UserHandle)
	}

	out, _ := json.Marshal(map[string]any{
		"id":       normalizeB64(id),
		"rawId":    normalizeB64(rawID),
		"type":     p.Type,
		"response": response,
	})
	return out
}

// normalizeB64 strips padding so downstream raw-base64url decoding accepts
// the value. Invalid input passes through untouched for the parser to
// reject.
func normalizeB64(s string) string {
	decoded, err := decodeBase64url(s)
	if err != nil {
		return s
	}
	return encodeBase64url(decoded)
}
