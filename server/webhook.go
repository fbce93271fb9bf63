package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// verifyWebhookSignature checks the request against a shared secret.
// GitHub sends an HMAC in x-hub-signature-256, GitLab sends the secret
// itself in x-gitlab-token. Either satisfies the check.
func verifyWebhookSignature(r *http.Request, body []byte, secret string) bool {
	if secret == "" {
		return true
	}

	if sig := r.Header.Get("x-hub-signature-256"); sig != "" {
		want, ok := strings.CutPrefix(sig, "sha256=")
		if !ok {
			return false
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		got := hex.EncodeToString(mac.Sum(nil))
		return hmac.Equal([]byte(got), []byte(strings.ToLower(want)))
	}

	if tok := r.Header.Get("x-gitlab-token"); tok != "" {
		return subtle.ConstantTimeCompare([]byte(tok), []byte(secret)) == 1
	}

	return false
}

// webhookTriggerSource derives the trigger source from provider event
// headers, falling back to "manual" for plain API calls.
func webhookTriggerSource(r *http.Request) string {
	if r.Header.Get("x-github-event") != "" {
		return "github"
	}
	if r.Header.Get("x-gitlab-event") != "" {
		return "gitlab"
	}
	if r.Header.Get("x-event-key") != "" {
		return "bitbucket"
	}
	return "manual"
}

func readWebhookBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}
