// Package fedauth orchestrates federated authentication against
// per-organization OIDC identity providers: endpoint discovery, the
// authorization-code flow with PKCE, nonce replay protection, token
// refresh, and best-effort revocation.
//
// The Orchestrator is the entry point. It is constructed once with the
// persistence and encryption collaborators and shared across requests:
//
//	orch, err := fedauth.New(fedauth.Config{
//	    Providers: store,
//	    Users:     store,
//	    Sessions:  store,
//	    Keys:      keys,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer orch.Close()
//
// Subpackages hold the supporting concerns: endpoints (discovery and
// connectivity probing), cache, httppool, retry, security (nonce, failure
// limiting, encryption, audit), storage (contracts plus memory and redis
// implementations), and instrumentation.
package fedauth
