package dto

import "github.com/jordancrombie/wsim-sub002/internal/models"

type StartEnrollmentRequest struct {
	Password string `json:"password,omitempty"`
	Channel  string `json:"channel,omitempty"` // web (default) or mobile
}

type CreatePaymentRequest struct {
	OrderID      string               `json:"orderId"`
	Description  *string              `json:"description,omitempty"`
	OrderDetails *models.OrderDetails `json:"orderDetails,omitempty"`
	Amount       string               `json:"amount"`
	Currency     string               `json:"currency,omitempty"`
	ReturnURL    string               `json:"returnUrl"`
}

type CompletePaymentRequest struct {
	RedemptionToken string `json:"redemptionToken"`
}

type ApprovePaymentRequest struct {
	CardID  string `json:"cardId"`
	Consent bool   `json:"consent"`
}

type RegisterRequest struct {
	Email     string        `json:"email"`
	Password  string        `json:"password"`
	FirstName *string       `json:"firstName,omitempty"`
	LastName  *string       `json:"lastName,omitempty"`
	Device    DeviceRequest `json:"device"`
}

type DeviceRequest struct {
	DeviceID      string  `json:"deviceId"`
	Platform      string  `json:"platform"`
	Name          *string `json:"name,omitempty"`
	PushToken     *string `json:"pushToken,omitempty"`
	PushTokenType *string `json:"pushTokenType,omitempty"`
}

type StartLoginRequest struct {
	Email string `json:"email"`
}

type VerifyLoginRequest struct {
	ChallengeID string        `json:"challengeId"`
	Code        string        `json:"code"`
	Device      DeviceRequest `json:"device"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type LogoutRequest struct {
	AllDevices bool `json:"allDevices,omitempty"`
}

type CreateStepUpRequest struct {
	Amount          string  `json:"amount"`
	Currency        string  `json:"currency,omitempty"`
	MerchantName    string  `json:"merchantName"`
	SessionID       *string `json:"sessionId,omitempty"`
	Reason          *string `json:"reason,omitempty"`
	TriggerType     string  `json:"triggerType"`
	RequestedCardID *string `json:"requestedCardId,omitempty"`
}

type ApproveStepUpRequest struct {
	CardID  *string `json:"cardId,omitempty"`
	Consent bool    `json:"consent"`
}

type RejectStepUpRequest struct {
	Reason string `json:"reason,omitempty"`
}
