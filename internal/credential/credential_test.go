package credential_test

import (
	"testing"

	"github.com/telclaude/vault/internal/credential"
)

func TestValidateAcceptsWellFormedVariants(t *testing.T) {
	cases := []credential.Credential{
		{Type: credential.TypeBearer, Token: "T"},
		{Type: credential.TypeAPIKey, Token: "T", Header: "X-Api-Key"},
		{Type: credential.TypeBasic, Username: "u", Password: "p"},
		{Type: credential.TypeQuery, Token: "T", Param: "api_key"},
		{Type: credential.TypeOAuth2, ClientID: "c", ClientSecret: "s", RefreshToken: "r", TokenEndpoint: "https://idp.test/tok"},
		{Type: credential.TypeDB, Username: "u", Password: "p"},
		{Type: credential.TypeSSHKey, SSHUsername: "u", PrivateKey: "key-material"},
		{Type: credential.TypeSSHPassword, SSHUsername: "u", Password: "p"},
		{Type: credential.TypeEd25519, PrivateKey: "AAAA", PublicKey: "AAAA"},
		{Type: credential.TypeOpaque, Value: "v"},
	}
	for _, c := range cases {
		if err := c.Validate(); err != nil {
			t.Errorf("Validate(%s) returned unexpected error: %v", c.Type, err)
		}
	}
}

func TestValidateRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		cred credential.Credential
	}{
		{"bearer missing token", credential.Credential{Type: credential.TypeBearer}},
		{"api-key bad header grammar", credential.Credential{Type: credential.TypeAPIKey, Token: "T", Header: "bad header!"}},
		{"query bad param chars", credential.Credential{Type: credential.TypeQuery, Token: "T", Param: "bad.param"}},
		{"oauth2 http endpoint", credential.Credential{Type: credential.TypeOAuth2, ClientID: "c", ClientSecret: "s", RefreshToken: "r", TokenEndpoint: "http://idp.test/tok"}},
		{"oauth2 missing endpoint", credential.Credential{Type: credential.TypeOAuth2, ClientID: "c", ClientSecret: "s", RefreshToken: "r"}},
		{"ed25519 bad base64", credential.Credential{Type: credential.TypeEd25519, PrivateKey: "not base64!!", PublicKey: "AAAA"}},
		{"unknown type", credential.Credential{Type: "bogus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cred.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSecretFieldsIncludesOAuth2Secrets(t *testing.T) {
	c := credential.Credential{Type: credential.TypeOAuth2, ClientID: "c", ClientSecret: "S3CRET", RefreshToken: "R3FRESH", TokenEndpoint: "https://idp.test/tok"}
	fields := c.SecretFields()
	found := map[string]bool{}
	for _, f := range fields {
		found[f] = true
	}
	if !found["S3CRET"] || !found["R3FRESH"] {
		t.Fatalf("expected secret fields to include client secret and refresh token, got %v", fields)
	}
}
