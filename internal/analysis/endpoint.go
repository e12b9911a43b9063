package analysis

import (
	"net/http"
	"strings"
	"time"
)

// CredentialEmpty is the sentinel credential for unauthenticated local
// backends; it suppresses the Authorization header without disabling the
// endpoint.
const CredentialEmpty = "EMPTY"

// DefaultEndpointTimeout bounds one outbound analysis call.
const DefaultEndpointTimeout = 120 * time.Second

// Endpoint is one configured model backend. Health counters and the last-used
// timestamp are owned by the orchestrator and never shared outside it.
type Endpoint struct {
	Name     string
	APIBase  string
	APIKey   string
	Model    string
	Enabled  bool
	Priority int
	Timeout  time.Duration

	successCount int
	errorCount   int
	lastUsed     time.Time

	client *http.Client
}

// hasCredential reports whether the endpoint carries a usable API key.
func (e *Endpoint) hasCredential() bool {
	key := strings.TrimSpace(e.APIKey)
	return key != "" && !strings.EqualFold(key, CredentialEmpty)
}

// chatCompletionsURL resolves the OpenAI-shaped completion endpoint.
func (e *Endpoint) chatCompletionsURL() string {
	return strings.TrimRight(e.APIBase, "/") + "/chat/completions"
}

func (e *Endpoint) init() {
	if e.Timeout <= 0 {
		e.Timeout = DefaultEndpointTimeout
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: e.Timeout}
	}
}
