package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikitakiselev/pushbot/internal/core"
)

type fakeLookup struct {
	services []*core.Service
}

func (f *fakeLookup) FindByRepoAndBranch(repo, branch string) (*core.Service, bool) {
	for _, s := range f.services {
		if s.Repository == repo && s.Branch == branch {
			return s, true
		}
	}
	return nil, false
}

func TestVerify_NoSecretAccepts(t *testing.T) {
	assert.True(t, Verify([]byte("body"), "", ""))
	assert.True(t, Verify([]byte("body"), "garbage", ""))
}

func TestVerify_ValidSignature(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	secret := "topsecret"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.True(t, Verify(body, sig, secret))
}

func TestVerify_InvalidSignature(t *testing.T) {
	assert.False(t, Verify([]byte("body"), "sha256=deadbeef", "topsecret"))
	assert.False(t, Verify([]byte("body"), "", "topsecret"))
	assert.False(t, Verify([]byte("body"), "nope", "topsecret"))
}

func TestInterpret_EmptyBody(t *testing.T) {
	_, err := Interpret(nil, &fakeLookup{})
	require.Error(t, err)
	assertKind(t, err, KindEmptyBody)
}

func TestInterpret_BadJSON(t *testing.T) {
	_, err := Interpret([]byte("not json"), &fakeLookup{})
	require.Error(t, err)
	assertKind(t, err, KindBadJSON)
}

func TestInterpret_MissingRef(t *testing.T) {
	body := []byte(`{"repository":{"full_name":"alice/site"}}`)
	_, err := Interpret(body, &fakeLookup{})
	require.Error(t, err)
	assertKind(t, err, KindBadShape)
}

func TestInterpret_UnknownTarget(t *testing.T) {
	body := []byte(`{"repository":{"full_name":"alice/site"},"ref":"refs/heads/dev"}`)
	lookup := &fakeLookup{services: []*core.Service{{Name: "web", Repository: "alice/site", Branch: "main"}}}

	_, err := Interpret(body, lookup)
	require.Error(t, err)
	assertKind(t, err, KindUnknownTarget)

	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "dev", werr.Branch)
}

func TestInterpret_MatchWithOwnerNameFallback(t *testing.T) {
	body := []byte(`{
		"repository": {"name": "site", "owner": {"login": "alice"}},
		"ref": "refs/heads/main",
		"commits": [{"id": "c1", "message": "first"}, {"id": "c2", "message": "second"}]
	}`)
	svc := &core.Service{Name: "web", Repository: "alice/site", Branch: "main"}
	lookup := &fakeLookup{services: []*core.Service{svc}}

	result, err := Interpret(body, lookup)
	require.NoError(t, err)
	assert.Equal(t, svc, result.Service)
	assert.Equal(t, "main", result.Branch)
	require.NotNil(t, result.CommitSHA)
	assert.Equal(t, "c2", *result.CommitSHA)
	require.NotNil(t, result.CommitMessage)
	assert.Equal(t, "second", *result.CommitMessage)
}

func assertKind(t *testing.T, err error, kind string) {
	t.Helper()
	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, kind, werr.Kind)
}
