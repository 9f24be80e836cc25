package partner

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ihep/integration-gateway/internal/canonical"
)

const (
	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	assertionLifetime   = 5 * time.Minute
	tokenRefreshSkew    = 30 * time.Second
	fetchPageSize       = 100
)

// FHIRClient is the generic FHIR R4 REST adapter. It authenticates with the
// backend-services flow: client_credentials plus a signed JWT client
// assertion.
type FHIRClient struct {
	def        Definition
	httpClient *http.Client
	signingKey *rsa.PrivateKey
	logger     zerolog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewFHIRClient parses the partner's signing key and builds the adapter. A
// partner without a private key is allowed; such partners skip the assertion
// flow and send unauthenticated requests (test servers, open sandboxes).
func NewFHIRClient(def Definition, logger zerolog.Logger) (*FHIRClient, error) {
	if def.BaseURL == "" {
		return nil, fmt.Errorf("fhir partner requires base_url")
	}

	var key *rsa.PrivateKey
	if def.PrivateKeyPEM != "" {
		var err error
		key, err = jwt.ParseRSAPrivateKeyFromPEM([]byte(def.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
	}

	return &FHIRClient{
		def:        def,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signingKey: key,
		logger:     logger.With().Str("partner_id", def.ID).Logger(),
	}, nil
}

func (c *FHIRClient) Capabilities() Capabilities {
	types := c.configuredTypes()
	return Capabilities{Read: types, Write: types}
}

func (c *FHIRClient) configuredTypes() []canonical.ResourceType {
	if len(c.def.ResourceTypes) == 0 {
		return []canonical.ResourceType{canonical.TypePatient, canonical.TypeObservation, canonical.TypeAppointment}
	}
	out := make([]canonical.ResourceType, 0, len(c.def.ResourceTypes))
	for _, t := range c.def.ResourceTypes {
		out = append(out, canonical.ResourceType(t))
	}
	return out
}

// Authenticate obtains an access token via the JWT assertion flow. Partners
// without a signing key are a no-op.
func (c *FHIRClient) Authenticate(ctx context.Context) error {
	if c.signingKey == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenRefreshSkew)) {
		return nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.def.ClientID,
		"sub": c.def.ClientID,
		"aud": c.def.TokenURL,
		"jti": uuid.New().String(),
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(assertionLifetime)),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS384, claims).SignedString(c.signingKey)
	if err != nil {
		return fmt.Errorf("sign client assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.def.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("token endpoint returned no access_token")
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	c.logger.Debug().Time("expires_at", c.tokenExpiry).Msg("access token refreshed")
	return nil
}

// FetchResources pulls one page of resources changed since cursor. The cursor
// is an ISO-8601 timestamp mapped onto FHIR's _lastUpdated search parameter;
// the returned NextCursor is the request time, so the next incremental pull
// starts where this one left off.
func (c *FHIRClient) FetchResources(ctx context.Context, resourceType canonical.ResourceType, cursor string) (FetchPage, error) {
	if !c.Capabilities().CanRead(resourceType) {
		return FetchPage{}, fmt.Errorf("%w: %s", ErrUnsupportedResource, resourceType)
	}
	if err := c.Authenticate(ctx); err != nil {
		return FetchPage{}, err
	}

	requestedAt := time.Now().UTC().Format(time.RFC3339)

	q := url.Values{}
	q.Set("_count", fmt.Sprintf("%d", fetchPageSize))
	if cursor != "" {
		q.Set("_lastUpdated", "gt"+cursor)
	}

	endpoint := fmt.Sprintf("%s/%s?%s", strings.TrimRight(c.def.BaseURL, "/"), resourceType, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return FetchPage{}, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FetchPage{}, fmt.Errorf("fetch %s: %w", resourceType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return FetchPage{}, fmt.Errorf("fetch %s returned %d: %s", resourceType, resp.StatusCode, body)
	}

	var bundle map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return FetchPage{}, fmt.Errorf("decode bundle: %w", err)
	}

	resources, failed := canonical.ResourcesFromBundle(c.def.ID, bundle)
	if failed > 0 {
		c.logger.Warn().
			Str("resource_type", string(resourceType)).
			Int("failed", failed).
			Msg("bundle entries skipped during conversion")
	}
	return FetchPage{Resources: resources, NextCursor: requestedAt, Failed: failed}, nil
}

// PushResource writes one resource with a FHIR update (PUT by id).
func (c *FHIRClient) PushResource(ctx context.Context, res canonical.Resource) error {
	if !c.Capabilities().CanWrite(res.Type) {
		return fmt.Errorf("%w: %s", ErrUnsupportedResource, res.Type)
	}
	if err := c.Authenticate(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(res.ToFHIR())
	if err != nil {
		return fmt.Errorf("encode %s: %w", res.Type, err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.def.BaseURL, "/"), res.Type, res.ID())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/fhir+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push %s: %w", res.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push %s returned %d: %s", res.Type, resp.StatusCode, body)
	}
	return nil
}

// ValidateConnection fetches the server's CapabilityStatement.
func (c *FHIRClient) ValidateConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.def.BaseURL, "/")+"/metadata", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("metadata request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata returned %d", resp.StatusCode)
	}
	return nil
}

func (c *FHIRClient) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/fhir+json")
	c.mu.Lock()
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	c.mu.Unlock()
}
