package dto

import (
	"time"

	"github.com/jordancrombie/wsim-sub002/internal/models"
)

// Machine-readable error codes returned alongside HTTP statuses.
const (
	CodePaymentNotFound         = "PAYMENT_NOT_FOUND"
	CodePaymentExpired          = "PAYMENT_EXPIRED"
	CodePaymentAlreadyProcessed = "PAYMENT_ALREADY_PROCESSED"
	CodeCardNotFound            = "CARD_NOT_FOUND"
	CodeCardTokenError          = "CARD_TOKEN_ERROR"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeForbidden               = "FORBIDDEN"
	CodeInvalidRequest          = "INVALID_REQUEST"
	CodeInvalidAPIKey           = "INVALID_API_KEY"
	CodeNotFound                = "NOT_FOUND"
	CodeInternal                = "INTERNAL_ERROR"
)

// ErrorResponse carries the machine-readable code in "error" and the human
// text in "message".
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type ProviderResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type StartEnrollmentResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
}

type PaymentLinksResponse struct {
	DeepLink     string `json:"deepLink"`
	UniversalURL string `json:"universalUrl"`
}

// MerchantPaymentResponse is the merchant's view of a payment request. The
// one-time redemption token is exposed only while the request is approved;
// before approval it does not exist, and after completion it is spent.
type MerchantPaymentResponse struct {
	*models.PaymentRequest
	RedemptionToken *string `json:"redemptionToken,omitempty"`
}

func NewMerchantPaymentResponse(p *models.PaymentRequest) MerchantPaymentResponse {
	resp := MerchantPaymentResponse{PaymentRequest: p}
	if p.Status == models.PaymentStatusApproved {
		resp.RedemptionToken = p.RedemptionToken
	}
	return resp
}

type CreatePaymentResponse struct {
	PaymentRequest *models.PaymentRequest `json:"paymentRequest"`
	Links          PaymentLinksResponse   `json:"links"`
}

type ViewPaymentResponse struct {
	PaymentRequest *models.PaymentRequest `json:"paymentRequest"`
	Cards          []CardResponse         `json:"cards"`
}

type CompletePaymentResponse struct {
	PaymentRequest  *models.PaymentRequest `json:"paymentRequest"`
	BankCardToken   string                 `json:"bankCardToken"`
	WalletCardToken string                 `json:"walletCardToken,omitempty"`
}

// CardResponse is the mobile projection of a card; bank references stay
// server-side.
type CardResponse struct {
	ID             string  `json:"id"`
	Network        string  `json:"network"`
	CardType       string  `json:"cardType"`
	LastFour       string  `json:"lastFour"`
	CardholderName *string `json:"cardholderName,omitempty"`
	ExpiryMonth    int     `json:"expiryMonth"`
	ExpiryYear     int     `json:"expiryYear"`
	BsimID         string  `json:"bsimId"`
	IsDefault      bool    `json:"isDefault"`
}

func NewCardResponse(c *models.Card) CardResponse {
	bsimID, _ := models.ParseWalletCardToken(c.WalletToken)
	return CardResponse{
		ID:             c.ID.String(),
		Network:        c.Network,
		CardType:       c.CardType,
		LastFour:       c.LastFour,
		CardholderName: c.CardholderName,
		ExpiryMonth:    c.ExpiryMonth,
		ExpiryYear:     c.ExpiryYear,
		BsimID:         bsimID,
		IsDefault:      c.IsDefault,
	}
}

func NewCardResponses(cards []models.Card) []CardResponse {
	out := make([]CardResponse, 0, len(cards))
	for i := range cards {
		out = append(out, NewCardResponse(&cards[i]))
	}
	return out
}

type AuthResponse struct {
	User   *models.User `json:"user"`
	Tokens any          `json:"tokens"`
}

type StartLoginResponse struct {
	ChallengeID string `json:"challengeId"`
}

type DeviceResponse struct {
	DeviceID   string    `json:"deviceId"`
	Platform   string    `json:"platform"`
	PushActive bool      `json:"pushActive"`
	CreatedAt  time.Time `json:"createdAt"`
}
