package bsim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jordancrombie/wsim-sub002/internal/providers"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EnrollScope is requested alongside the standard identity scopes; a bank that
// does not grant it still enrolls on the degraded access-token path.
const EnrollScope = "wallet:enroll"

// Client talks to BSIM banks: OIDC discovery, authorization URL construction,
// code exchange, card listing and card-token requests. Discovery documents are
// cached per issuer for the process lifetime.
type Client struct {
	httpClient *http.Client
	log        *zap.Logger

	mu        sync.Mutex
	discovery map[string]*DiscoveryDocument
}

func NewClient(log *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log:       log,
		discovery: make(map[string]*DiscoveryDocument),
	}
}

type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

func (c *Client) Discover(ctx context.Context, issuer string) (*DiscoveryDocument, error) {
	c.mu.Lock()
	if doc, ok := c.discovery[issuer]; ok {
		c.mu.Unlock()
		return doc, nil
	}
	c.mu.Unlock()

	wellKnown := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bsim discovery unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bsim discovery returned %d: %s", resp.StatusCode, string(body))
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, fmt.Errorf("bsim discovery document incomplete for issuer %s", issuer)
	}

	c.mu.Lock()
	c.discovery[issuer] = &doc
	c.mu.Unlock()
	return &doc, nil
}

type AuthorizationRequest struct {
	Provider      providers.Provider
	RedirectURI   string
	State         string
	Nonce         string
	CodeChallenge string
}

func (c *Client) BuildAuthorizationURL(ctx context.Context, req AuthorizationRequest) (string, error) {
	doc, err := c.Discover(ctx, req.Provider.Issuer)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", req.Provider.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("scope", "openid profile email "+EnrollScope)
	q.Set("state", req.State)
	q.Set("nonce", req.Nonce)
	q.Set("code_challenge", req.CodeChallenge)
	q.Set("code_challenge_method", "S256")

	sep := "?"
	if strings.Contains(doc.AuthorizationEndpoint, "?") {
		sep = "&"
	}
	return doc.AuthorizationEndpoint + sep + q.Encode(), nil
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (c *Client) ExchangeCode(ctx context.Context, p providers.Provider, code, redirectURI, verifier string) (*TokenResponse, error) {
	doc, err := c.Discover(ctx, p.Issuer)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bsim token endpoint unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token exchange returned %d: %s", resp.StatusCode, string(body))
	}

	var tokens TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token exchange returned no access token")
	}
	return &tokens, nil
}

type BankCard struct {
	ID             string `json:"id"`
	Network        string `json:"network"`
	Type           string `json:"type"`
	LastFour       string `json:"last_four"`
	CardholderName string `json:"cardholder_name"`
	ExpiryMonth    int    `json:"expiry_month"`
	ExpiryYear     int    `json:"expiry_year"`
	Active         bool   `json:"active"`
}

// FetchCards lists the user's cards at the bank using the wallet credential.
func (c *Client) FetchCards(ctx context.Context, apiBaseURL, credential string) ([]BankCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBaseURL+"/wallet/cards", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bsim card service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("card fetch returned %d: %s", resp.StatusCode, string(body))
	}

	var cards []BankCard
	if err := json.NewDecoder(resp.Body).Decode(&cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// RequestCardToken obtains an ephemeral merchant-facing token for one card.
func (c *Client) RequestCardToken(ctx context.Context, apiBaseURL, credential, bankCardRef string, amount decimal.Decimal, currency string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"amount":   amount.String(),
		"currency": currency,
	})

	reqURL := fmt.Sprintf("%s/wallet/cards/%s/token", apiBaseURL, url.PathEscape(bankCardRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bsim token service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("card token request returned %d: %s", resp.StatusCode, string(b))
	}

	var result struct {
		CardToken string `json:"card_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.CardToken == "" {
		return "", fmt.Errorf("card token response missing card_token")
	}
	return result.CardToken, nil
}
