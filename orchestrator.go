package fedauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/rivermead/fedauth/cache"
	"github.com/rivermead/fedauth/endpoints"
	"github.com/rivermead/fedauth/httppool"
	"github.com/rivermead/fedauth/instrumentation"
	"github.com/rivermead/fedauth/retry"
	"github.com/rivermead/fedauth/security"
	"github.com/rivermead/fedauth/storage"
)

// maxUserinfoSize bounds how much of a userinfo response we read.
const maxUserinfoSize = 1 << 20 // 1 MiB

// Orchestrator drives the authorization-code(+PKCE) login flow end to end
// for multiple organizations. It composes the endpoint resolver, nonce
// store, failure limiter, retry schedule, and the persistence and
// encryption collaborators. Construct one per process with New and share
// it across requests.
type Orchestrator struct {
	config Config
	logger *slog.Logger

	providers storage.ProviderConfigStore
	users     storage.UserStore
	sessions  storage.SessionStore

	pool      *httppool.Pool
	cache     *cache.Cache
	retryer   *retry.Retryer
	resolver  *endpoints.Resolver
	nonces    *security.NonceStore
	limiter   *security.FailureLimiter
	encryptor *security.Encryptor
	auditor   *security.Auditor

	strategyGroup singleflight.Group
	inst          *instrumentation.Instrumentation
	tracer        trace.Tracer
}

// New creates an orchestrator from the configuration. The orchestrator
// owns its connection pool and failure limiter; call Close when done.
func New(config Config) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	encryptor, err := security.NewEncryptor(config.Keys)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	logger := config.Logger
	pool := httppool.New(httppool.Options{
		RequestTimeout: config.HTTP.RequestTimeout,
		PerHostRate:    float64(config.HTTP.PerHostRate),
		PerHostBurst:   config.HTTP.PerHostBurst,
		Logger:         logger,
	})
	configCache := cache.New(logger)
	retryer := retry.New(retry.Options{
		MaxAttempts:     config.Retry.MaxAttempts,
		InitialInterval: config.Retry.InitialInterval,
		MaxInterval:     config.Retry.MaxInterval,
		Logger:          logger,
	})

	tracer := tracenoop.NewTracerProvider().Tracer("flow")
	var metrics *instrumentation.Metrics
	if config.Instrumentation != nil {
		tracer = config.Instrumentation.Tracer("flow")
		metrics = config.Instrumentation.Metrics()
	}

	o := &Orchestrator{
		config:    config,
		logger:    logger,
		providers: config.Providers,
		users:     config.Users,
		sessions:  config.Sessions,
		pool:      pool,
		cache:     configCache,
		retryer:   retryer,
		resolver: endpoints.NewResolver(endpoints.ResolverOptions{
			Pool:      pool,
			Cache:     configCache,
			Retryer:   retryer,
			Fallbacks: endpoints.NewFallbackResolver(config.Fallbacks),
			Metrics:   metrics,
			Logger:    logger,
		}),
		nonces: security.NewNonceStore(config.Sessions, config.Security.NonceTTL, logger),
		limiter: security.NewFailureLimiter(security.FailureLimiterOptions{
			Threshold:       config.RateLimit.Threshold,
			Window:          config.RateLimit.Window,
			CleanupInterval: config.RateLimit.CleanupInterval,
			Logger:          logger,
		}),
		encryptor: encryptor,
		auditor:   security.NewAuditor(logger, config.Security.EnableAuditLogging),
		inst:      config.Instrumentation,
		tracer:    tracer,
	}
	return o, nil
}

// Close releases the orchestrator's owned resources: the connection pool
// and the failure limiter's cleanup loop. The stores are the caller's.
func (o *Orchestrator) Close() {
	o.limiter.Stop()
	o.pool.Close()
}

// metrics returns the metric instruments, or nil when instrumentation is
// not configured. The recorder methods are nil-safe.
func (o *Orchestrator) metrics() *instrumentation.Metrics {
	if o.inst == nil {
		return nil
	}
	return o.inst.Metrics()
}

// PoolStats exposes per-host connection pool counters for health
// reporting.
func (o *Orchestrator) PoolStats() []httppool.HostStats {
	return o.pool.Stats()
}

// InitiateAuth starts a login flow for an organization: it builds (or
// retrieves) the provider strategy, creates a login session holding the
// state value and nonce, and returns the authorization redirect, with a
// PKCE challenge when the provider settings enable it.
func (o *Orchestrator) InitiateAuth(ctx context.Context, req InitiateRequest) (*AuthRedirect, *FlowError) {
	ctx, span := o.tracer.Start(ctx, "fedauth.flow.initiate")
	defer span.End()

	redirect, flowErr := o.initiateAuth(ctx, req)
	o.finishSpan(span, req.OrgID, string(storage.FlowInitiated), flowErr)
	return redirect, flowErr
}

func (o *Orchestrator) initiateAuth(ctx context.Context, req InitiateRequest) (*AuthRedirect, *FlowError) {
	strat, flowErr := o.getStrategy(ctx, req.OrgID, req.RedirectURI)
	if flowErr != nil {
		return nil, flowErr
	}

	state, err := security.GenerateNonce()
	if err != nil {
		return nil, errInternal("generating state", err)
	}
	sessionID := uuid.NewString()

	now := time.Now()
	session := &storage.Session{
		ID:        sessionID,
		OrgID:     req.OrgID,
		State:     state,
		ReturnTo:  req.ReturnTo,
		Status:    storage.FlowInitiated,
		CreatedAt: now,
		ExpiresAt: now.Add(o.config.SessionTTL),
	}

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if strat.settings.PKCEEnabled {
		verifier := oauth2.GenerateVerifier()
		session.CodeVerifier = verifier
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}

	if err := o.sessions.SaveSession(ctx, session); err != nil {
		return nil, errInternal("persisting login session", err)
	}

	nonce, err := o.nonces.Issue(ctx, sessionID)
	if err != nil {
		return nil, errInternal("issuing nonce", err)
	}
	opts = append(opts, oauth2.SetAuthURLParam("nonce", nonce))

	o.metrics().RecordLoginStarted(ctx, req.OrgID)
	o.auditor.LogFlowTransition(req.OrgID, sessionID, string(storage.FlowIdle), string(storage.FlowInitiated))
	o.logger.Info("Login flow initiated",
		"org_id", req.OrgID,
		"issuer", strat.endpoints.Issuer,
		"pkce", strat.settings.PKCEEnabled)

	return &AuthRedirect{
		URL:       strat.oauth.AuthCodeURL(state, opts...),
		SessionID: sessionID,
		State:     state,
	}, nil
}

// HandleCallback processes the provider's redirect back: it checks the
// failure limiter, correlates the state value to a pending session,
// exchanges the code, validates the nonce from the ID token, fetches
// userinfo, maps claims, provisions the user, and persists the encrypted
// token set.
func (o *Orchestrator) HandleCallback(ctx context.Context, req CallbackRequest) (*LoginResult, *FlowError) {
	ctx, span := o.tracer.Start(ctx, "fedauth.flow.callback")
	defer span.End()

	result, flowErr := o.handleCallback(ctx, req)
	o.finishSpan(span, req.OrgID, string(storage.FlowSessionEstablished), flowErr)
	return result, flowErr
}

func (o *Orchestrator) handleCallback(ctx context.Context, req CallbackRequest) (*LoginResult, *FlowError) {
	identifier := failureIdentifier(req.OrgID, req.ClientIP)
	if o.limiter.IsBlocked(identifier, security.CategoryFailedAuth) {
		o.metrics().RecordRateLimitBlocked(ctx, string(security.CategoryFailedAuth))
		o.auditor.LogRateLimitExceeded(req.OrgID, req.ClientIP, security.CategoryFailedAuth)
		return nil, errRateLimited(fmt.Sprintf("identifier %s blocked for %s", identifier, security.CategoryFailedAuth))
	}

	session, err := o.sessions.GetSessionByState(ctx, req.State)
	if err != nil {
		o.trackFailure(ctx, req.OrgID, "", req.ClientIP, "unknown or expired state")
		return nil, errSessionInvalid("no session for state parameter", err)
	}
	if session.OrgID != req.OrgID {
		o.trackFailure(ctx, req.OrgID, session.ID, req.ClientIP, "state belongs to another organization")
		return nil, errSessionInvalid("session organization mismatch", nil)
	}
	if session.Expired(time.Now()) || session.Status != storage.FlowInitiated {
		o.trackFailure(ctx, req.OrgID, session.ID, req.ClientIP, "session expired or already used")
		return nil, errSessionInvalid(fmt.Sprintf("session in state %s", session.Status), nil)
	}

	if req.ErrorCode != "" {
		o.failSession(ctx, session, fmt.Sprintf("provider denied: %s", req.ErrorCode))
		o.trackFailure(ctx, req.OrgID, session.ID, req.ClientIP, "provider returned error")
		return nil, errTokenExchange(
			fmt.Sprintf("provider denied authorization: %s (%s)", req.ErrorCode, req.ErrorDescription), nil)
	}

	o.transition(ctx, session, storage.FlowCallbackReceived)

	strat, flowErr := o.getStrategy(ctx, req.OrgID, req.RedirectURI)
	if flowErr != nil {
		o.failSession(ctx, session, flowErr.Code)
		return nil, flowErr
	}

	tokens, flowErr := o.exchangeCode(ctx, strat, session, req.Code)
	if flowErr != nil {
		o.failSession(ctx, session, flowErr.Code)
		o.trackFailure(ctx, req.OrgID, session.ID, req.ClientIP, "token exchange failed")
		return nil, flowErr
	}
	o.transition(ctx, session, storage.FlowTokenExchanged)
	o.metrics().RecordTokenExchange(ctx, req.OrgID, true)

	idClaims, flowErr := o.validateIDToken(ctx, strat, session, tokens)
	if flowErr != nil {
		o.failSession(ctx, session, flowErr.Code)
		o.trackFailure(ctx, req.OrgID, session.ID, req.ClientIP, flowErr.Internal)
		return nil, flowErr
	}

	claims, flowErr := o.fetchUserinfo(ctx, strat, tokens.AccessToken)
	if flowErr != nil {
		o.failSession(ctx, session, flowErr.Code)
		return nil, flowErr
	}
	o.transition(ctx, session, storage.FlowUserinfoFetched)

	identity, err := mapClaims(mergeClaims(idClaims, claims), strat.settings.AttributeMapping, strat.settings.DefaultRole)
	if err != nil {
		provErr := errProvisioning(err.Error(), err)
		o.failSession(ctx, session, provErr.Code)
		return nil, provErr
	}

	user, flowErr := o.provisionUser(ctx, strat.settings, identity)
	if flowErr != nil {
		o.failSession(ctx, session, flowErr.Code)
		return nil, flowErr
	}
	o.transition(ctx, session, storage.FlowUserProvisioned)

	if flowErr := o.persistTokens(ctx, session, user.ID, tokens); flowErr != nil {
		o.failSession(ctx, session, flowErr.Code)
		return nil, flowErr
	}
	o.transition(ctx, session, storage.FlowSessionEstablished)

	o.metrics().RecordLoginOutcome(ctx, req.OrgID, true, "")
	o.logger.Info("Login flow completed",
		"org_id", req.OrgID,
		"user_id", user.ID)

	return &LoginResult{
		SessionID: session.ID,
		UserID:    user.ID,
		Identity:  identity,
		ReturnTo:  session.ReturnTo,
	}, nil
}

// exchangeCode swaps the authorization code for tokens through the pooled
// client and the retry schedule.
func (o *Orchestrator) exchangeCode(ctx context.Context, strat *strategy, session *storage.Session, code string) (*TokenSet, *FlowError) {
	client, err := o.pool.HTTPClient(strat.endpoints.TokenEndpoint)
	if err != nil {
		return nil, errConfiguration("invalid token endpoint", err)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	var opts []oauth2.AuthCodeOption
	if session.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(session.CodeVerifier))
	}

	result := retry.Do(ctx, o.retryer, "token_exchange", func(ctx context.Context) (*oauth2.Token, error) {
		token, err := strat.oauth.Exchange(ctx, code, opts...)
		if err != nil {
			return nil, classifyOAuthError(err, strat.endpoints.TokenEndpoint)
		}
		return token, nil
	})
	o.metrics().RecordRetryAttempts(ctx, "token_exchange", result.Attempts)
	if result.Err != nil {
		o.metrics().RecordTokenExchange(ctx, session.OrgID, false)
		return nil, errTokenExchange("exchanging authorization code", result.Err)
	}

	return tokenSetFromOAuth(result.Value), nil
}

// validateIDToken verifies the returned ID token and checks its nonce
// against the one issued at initiation. The stored nonce is consumed
// whether or not validation succeeds.
func (o *Orchestrator) validateIDToken(ctx context.Context, strat *strategy, session *storage.Session, tokens *TokenSet) (map[string]any, *FlowError) {
	client, err := o.pool.HTTPClient(strat.endpoints.Issuer)
	if err != nil {
		return nil, errConfiguration("invalid issuer URL", err)
	}

	idClaims, err := verifyIDToken(ctx, client,
		strat.endpoints.Issuer,
		strat.endpoints.JWKSURI,
		strat.settings.ClientID,
		tokens.IDToken,
		o.config.Security.SkipIDTokenVerification)
	if err != nil {
		// Consume the nonce anyway: a rejected callback must not leave a
		// live nonce behind for a second attempt.
		_, _ = o.nonces.Consume(ctx, session.ID)
		return nil, errNonce(fmt.Sprintf("id_token verification failed: %v", err), err)
	}

	if err := o.nonces.Validate(ctx, session.ID, idClaims.Nonce); err != nil {
		var nonceErr *security.NonceValidationError
		if errors.As(err, &nonceErr) {
			o.auditor.LogLoginFailure(session.OrgID, session.ID, "", string(nonceErr.Reason))
			return nil, errNonce(fmt.Sprintf("nonce validation failed: %s", nonceErr.Reason), err)
		}
		return nil, errNonce("nonce validation failed", err)
	}

	return idClaims.Claims, nil
}

// fetchUserinfo retrieves the userinfo document with the access token.
// Providers without a userinfo endpoint contribute ID token claims only.
func (o *Orchestrator) fetchUserinfo(ctx context.Context, strat *strategy, accessToken string) (map[string]any, *FlowError) {
	endpoint := strat.endpoints.UserinfoEndpoint
	if endpoint == "" {
		return nil, nil
	}

	result := retry.Do(ctx, o.retryer, "userinfo_fetch", func(ctx context.Context) (map[string]any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)

		start := time.Now()
		resp, err := o.pool.Do(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("userinfo request: %w", err)
		}
		defer resp.Body.Close()
		o.metrics().RecordProviderAPICall(ctx, "userinfo", resp.StatusCode, float64(time.Since(start).Milliseconds()))

		if resp.StatusCode != 200 {
			return nil, &httppool.StatusError{StatusCode: resp.StatusCode, URL: endpoint}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserinfoSize))
		if err != nil {
			return nil, fmt.Errorf("read userinfo response: %w", err)
		}
		claims := make(map[string]any)
		if err := json.Unmarshal(body, &claims); err != nil {
			return nil, retry.Permanent(fmt.Errorf("parse userinfo response: %w", err))
		}
		return claims, nil
	})
	o.metrics().RecordRetryAttempts(ctx, "userinfo_fetch", result.Attempts)
	if result.Err != nil {
		return nil, errUserInfoFetch("fetching userinfo", result.Err)
	}
	return result.Value, nil
}

// provisionUser resolves the mapped identity to a local user, creating one
// only when the organization allows auto-provisioning.
func (o *Orchestrator) provisionUser(ctx context.Context, settings *storage.ProviderSettings, identity Identity) (*storage.User, *FlowError) {
	user, err := o.users.FindUserByEmail(ctx, settings.OrgID, identity.Email)
	switch {
	case err == nil:
		user.Name = identity.DisplayName
		if len(identity.Attributes) > 0 {
			user.Attributes = identity.Attributes
		}
		if err := o.users.UpdateUser(ctx, user); err != nil {
			return nil, errProvisioning("updating user attributes", err)
		}
		return user, nil

	case errors.Is(err, storage.ErrUserNotFound):
		if !settings.AutoProvision {
			return nil, errProvisioning(
				fmt.Sprintf("user %s is not a member and auto-provisioning is disabled", identity.Email), nil)
		}
		user = &storage.User{
			ID:         uuid.NewString(),
			OrgID:      settings.OrgID,
			Email:      identity.Email,
			Name:       identity.DisplayName,
			Role:       identity.Role,
			Attributes: identity.Attributes,
			CreatedAt:  time.Now(),
		}
		if err := o.users.CreateUser(ctx, user); err != nil {
			return nil, errProvisioning("creating user", err)
		}
		o.logger.Info("Auto-provisioned user", "org_id", settings.OrgID, "user_id", user.ID, "role", user.Role)
		return user, nil

	default:
		return nil, errProvisioning("looking up user", err)
	}
}

// persistTokens encrypts the token set and writes it onto the session.
func (o *Orchestrator) persistTokens(ctx context.Context, session *storage.Session, userID string, tokens *TokenSet) *FlowError {
	encAccess, err := o.encryptor.Encrypt(ctx, tokens.AccessToken)
	if err != nil {
		return errInternal("encrypting access token", err)
	}
	var encRefresh string
	if tokens.RefreshToken != "" {
		encRefresh, err = o.encryptor.Encrypt(ctx, tokens.RefreshToken)
		if err != nil {
			return errInternal("encrypting refresh token", err)
		}
	}

	session.UserID = userID
	session.EncryptedAccessToken = encAccess
	session.EncryptedRefreshToken = encRefresh
	session.TokenExpiry = tokens.Expiry
	session.GrantedScopes = tokens.GrantedScopes
	if err := o.sessions.UpdateSession(ctx, session); err != nil {
		return errInternal("persisting token set", err)
	}
	return nil
}

// RefreshTokens performs the refresh grant for an established session and
// overwrites the stored token set. The old refresh token is retained when
// the provider does not rotate it.
func (o *Orchestrator) RefreshTokens(ctx context.Context, sessionID string) (*TokenSet, *FlowError) {
	ctx, span := o.tracer.Start(ctx, "fedauth.token.refresh",
		trace.WithAttributes(attribute.String(instrumentation.AttrGrantType, "refresh_token")))
	defer span.End()

	tokens, flowErr := o.refreshTokens(ctx, sessionID)
	o.finishSpan(span, "", "", flowErr)
	return tokens, flowErr
}

func (o *Orchestrator) refreshTokens(ctx context.Context, sessionID string) (*TokenSet, *FlowError) {
	session, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, errSessionInvalid("loading session", err)
	}
	if session.Status != storage.FlowSessionEstablished || session.EncryptedRefreshToken == "" {
		return nil, errSessionInvalid("session holds no refresh token", nil)
	}

	refreshToken, err := o.encryptor.Decrypt(ctx, session.EncryptedRefreshToken)
	if err != nil {
		o.metrics().RecordEncryptionFailure(ctx, session.OrgID)
		return nil, errInternal("decrypting refresh token", err)
	}

	strat, flowErr := o.getStrategy(ctx, session.OrgID, "")
	if flowErr != nil {
		return nil, flowErr
	}

	client, err := o.pool.HTTPClient(strat.endpoints.TokenEndpoint)
	if err != nil {
		return nil, errConfiguration("invalid token endpoint", err)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	result := retry.Do(ctx, o.retryer, "token_refresh", func(ctx context.Context) (*oauth2.Token, error) {
		source := strat.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		token, err := source.Token()
		if err != nil {
			return nil, classifyOAuthError(err, strat.endpoints.TokenEndpoint)
		}
		return token, nil
	})
	o.metrics().RecordRetryAttempts(ctx, "token_refresh", result.Attempts)
	if result.Err != nil {
		o.trackFailure(ctx, session.OrgID, session.ID, "", "token refresh failed")
		return nil, errTokenExchange("performing refresh grant", result.Err)
	}

	tokens := tokenSetFromOAuth(result.Value)
	rotated := tokens.RefreshToken != "" && tokens.RefreshToken != refreshToken
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = refreshToken
	}

	if flowErr := o.persistTokens(ctx, session, session.UserID, tokens); flowErr != nil {
		return nil, flowErr
	}

	o.metrics().RecordTokenRefresh(ctx, session.OrgID, rotated)
	o.auditor.LogTokenRefreshed(session.OrgID, session.ID, rotated)
	return tokens, nil
}

// RevokeTokens best-effort revokes the session's tokens at the provider
// and deletes the local session row. Revocation failure is reported in the
// outcome and logged, but never fails the logout: the session row is
// deleted regardless.
func (o *Orchestrator) RevokeTokens(ctx context.Context, sessionID string) (RevocationOutcome, *FlowError) {
	ctx, span := o.tracer.Start(ctx, "fedauth.token.revoke")
	defer span.End()

	outcome, flowErr := o.revokeTokens(ctx, sessionID)
	o.finishSpan(span, "", "", flowErr)
	return outcome, flowErr
}

func (o *Orchestrator) revokeTokens(ctx context.Context, sessionID string) (RevocationOutcome, *FlowError) {
	outcome := RevocationOutcome{}

	session, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return outcome, errSessionInvalid("loading session", err)
	}

	hasTokens := session.EncryptedAccessToken != "" || session.EncryptedRefreshToken != ""

	strat, flowErr := o.getStrategy(ctx, session.OrgID, "")
	if flowErr == nil && strat.endpoints.RevocationEndpoint != "" && hasTokens {
		outcome.Attempted = true
		outcome.AccessTokenRevoked = o.revokeOne(ctx, strat, session, session.EncryptedAccessToken, "access_token")
		outcome.RefreshTokenRevoked = o.revokeOne(ctx, strat, session, session.EncryptedRefreshToken, "refresh_token")
		o.metrics().RecordTokenRevocation(ctx, session.OrgID,
			outcome.AccessTokenRevoked && outcome.RefreshTokenRevoked)
	} else if flowErr != nil {
		o.auditor.LogRevocationFailure(session.OrgID, session.ID, "strategy unavailable: "+flowErr.Internal)
	}

	if err := o.sessions.DeleteSession(ctx, sessionID); err != nil {
		return outcome, errInternal("deleting session", err)
	}
	outcome.SessionDeleted = true
	return outcome, nil
}

// revokeOne decrypts and revokes a single stored token. Returns false on
// any failure; the failure is logged and audited, never raised.
func (o *Orchestrator) revokeOne(ctx context.Context, strat *strategy, session *storage.Session, encrypted, hint string) bool {
	if encrypted == "" {
		return true
	}
	token, err := o.encryptor.Decrypt(ctx, encrypted)
	if err != nil {
		o.metrics().RecordEncryptionFailure(ctx, session.OrgID)
		o.auditor.LogRevocationFailure(session.OrgID, session.ID, hint+": decryption failed")
		return false
	}

	form := url.Values{
		"token":           {token},
		"token_type_hint": {hint},
		"client_id":       {strat.oauth.ClientID},
		"client_secret":   {strat.oauth.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strat.endpoints.RevocationEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		o.auditor.LogRevocationFailure(session.OrgID, session.ID, hint+": building request failed")
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.pool.Do(ctx, req)
	if err != nil {
		o.logger.Warn("Token revocation failed", "hint", hint, "error", err)
		o.auditor.LogRevocationFailure(session.OrgID, session.ID, hint+": request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		o.logger.Warn("Token revocation rejected", "hint", hint, "status", resp.StatusCode)
		o.auditor.LogRevocationFailure(session.OrgID, session.ID,
			fmt.Sprintf("%s: provider returned %d", hint, resp.StatusCode))
		return false
	}
	return true
}

// TestProviderConnectivity resolves the organization's endpoints, probes
// them, and records the test time on the provider settings. Used by the
// administrator "test configuration" action.
func (o *Orchestrator) TestProviderConnectivity(ctx context.Context, orgID string) (endpoints.ConnectivityReport, *FlowError) {
	strat, flowErr := o.getStrategy(ctx, orgID, "")
	if flowErr != nil {
		return endpoints.ConnectivityReport{}, flowErr
	}

	report := o.resolver.TestConnectivity(ctx, strat.endpoints)

	settings := *strat.settings
	settings.LastTestedAt = report.CheckedAt
	if err := o.providers.SaveProviderSettings(ctx, &settings); err != nil {
		o.logger.Warn("Failed to record connectivity test time", "org_id", orgID, "error", err)
	} else {
		o.InvalidateProvider(ctx, orgID)
	}
	return report, nil
}

// transition advances a session's flow status, persists it, and audits the
// change.
func (o *Orchestrator) transition(ctx context.Context, session *storage.Session, to storage.FlowStatus) {
	from := session.Status
	session.Status = to
	if err := o.sessions.UpdateSession(ctx, session); err != nil {
		o.logger.Warn("Failed to persist flow transition",
			"session_id_present", session.ID != "",
			"from", from,
			"to", to,
			"error", err)
	}
	o.auditor.LogFlowTransition(session.OrgID, session.ID, string(from), string(to))
}

// failSession marks a session failed with its reason.
func (o *Orchestrator) failSession(ctx context.Context, session *storage.Session, reason string) {
	from := session.Status
	session.Status = storage.FlowFailed
	session.FailureReason = reason
	if err := o.sessions.UpdateSession(ctx, session); err != nil {
		o.logger.Warn("Failed to persist failed session", "error", err)
	}
	o.auditor.LogFlowTransition(session.OrgID, session.ID, string(from), string(storage.FlowFailed))
	o.metrics().RecordLoginOutcome(ctx, session.OrgID, false, reason)
}

// finishSpan stamps the flow outcome on a span. The org and status
// attributes are skipped when unknown.
func (o *Orchestrator) finishSpan(span trace.Span, orgID, successStatus string, flowErr *FlowError) {
	if flowErr != nil {
		instrumentation.AddFlowAttributes(span, orgID, string(storage.FlowFailed))
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrErrorCode, flowErr.Code))
		instrumentation.RecordError(span, flowErr)
		return
	}
	instrumentation.AddFlowAttributes(span, orgID, successStatus)
	instrumentation.SetSpanSuccess(span)
}

// trackFailure feeds the failure limiter and audit trail.
func (o *Orchestrator) trackFailure(ctx context.Context, orgID, sessionID, clientIP, reason string) {
	o.limiter.Track(failureIdentifier(orgID, clientIP), security.CategoryFailedAuth)
	o.auditor.LogLoginFailure(orgID, sessionID, clientIP, reason)
}

// failureIdentifier keys limiter counters by organization and caller IP.
func failureIdentifier(orgID, clientIP string) string {
	if clientIP == "" {
		return orgID
	}
	return orgID + ":" + clientIP
}

// tokenSetFromOAuth converts an oauth2 token into the library's TokenSet.
func tokenSetFromOAuth(token *oauth2.Token) *TokenSet {
	set := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		set.IDToken = idToken
	}
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		set.GrantedScopes = strings.Fields(scope)
	}
	return set
}

// classifyOAuthError maps oauth2 transport errors onto the retry
// classification: provider 4xx answers (except 429) are terminal.
func classifyOAuthError(err error, endpoint string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return &httppool.StatusError{StatusCode: retrieveErr.Response.StatusCode, URL: endpoint}
	}
	return err
}
