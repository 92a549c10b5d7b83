package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/nikitakiselev/pushbot/internal/core"
)

// Verify checks an inbound webhook body against the shared secret. An
// empty secret accepts every request unsigned (spec.md §4.B, matching
// the original's behavior of disabling verification when no secret is
// configured rather than rejecting all requests).
func Verify(body []byte, signatureHeader, secret string) bool {
	if secret == "" {
		return true
	}

	const prefix = "sha256="
	if !strings.HasPrefix(signatureHeader, prefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := prefix + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// pushPayload mirrors the subset of a provider push event the
// interpreter cares about (spec.md §6 Webhook envelope).
type pushPayload struct {
	Repository struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
		Owner    struct {
			Login string `json:"login"`
			Name  string `json:"name"`
		} `json:"owner"`
	} `json:"repository"`
	Ref     string `json:"ref"`
	Commits []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"commits"`
}

// MatchResult is the outcome of successfully interpreting a push payload
// against the configured services.
type MatchResult struct {
	Service       *core.Service
	CommitSHA     *string
	CommitMessage *string
	Branch        string
}

// ServiceLookup resolves the first configured service matching a
// (repository, branch) pair. Implemented by the service registry.
type ServiceLookup interface {
	FindByRepoAndBranch(repo, branch string) (*core.Service, bool)
}

// Interpret parses a raw push payload body and matches it against the
// configured services, per spec.md §4.B.
func Interpret(body []byte, lookup ServiceLookup) (*MatchResult, error) {
	if len(body) == 0 {
		return nil, errEmptyBody()
	}

	var p pushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errBadJSON()
	}

	fullName := p.Repository.FullName
	if fullName == "" {
		owner := p.Repository.Owner.Login
		if owner == "" {
			owner = p.Repository.Owner.Name
		}
		if owner == "" || p.Repository.Name == "" {
			return nil, errBadShape("repository")
		}
		fullName = owner + "/" + p.Repository.Name
	}

	if p.Ref == "" {
		return nil, errBadShape("ref")
	}
	const refPrefix = "refs/heads/"
	if !strings.HasPrefix(p.Ref, refPrefix) {
		return nil, errBadShape("ref")
	}
	branch := strings.TrimPrefix(p.Ref, refPrefix)

	svc, ok := lookup.FindByRepoAndBranch(fullName, branch)
	if !ok {
		return nil, errUnknownTarget(fullName, branch)
	}

	result := &MatchResult{Service: svc, Branch: branch}
	if n := len(p.Commits); n > 0 {
		last := p.Commits[n-1]
		if last.ID != "" {
			result.CommitSHA = &last.ID
		}
		if last.Message != "" {
			result.CommitMessage = &last.Message
		}
	}
	return result, nil
}
