package mpesa

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"settlement-engine/internal/core/domain"
	"settlement-engine/internal/core/ports"

	"github.com/shopspring/decimal"
)

// processingCode is returned by the STK query while the customer has not answered the prompt.
const processingCode = "500.001.1001"

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
}

// password is base64(shortcode + passkey + timestamp).
func (c *Client) password() (string, string) {
	ts := c.now().Format("20060102150405")
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + ts)), ts
}

// InitiateCollection sends an STK push and returns the CheckoutRequestID.
func (c *Client) InitiateCollection(ctx context.Context, req ports.CollectionRequest) (string, error) {
	amount, err := wholeAmount(req.Amount)
	if err != nil {
		return "", err
	}
	phone := NormalizePhone(req.Phone)
	password, ts := c.password()
	desc := req.Description
	if desc == "" {
		desc = "Payment " + req.Reference
	}

	var res stkPushResponse
	err = c.post(ctx, "/mpesa/stkpush/v1/processrequest", stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CollectionCallbackURL,
		AccountReference:  truncate(req.Reference, 12),
		TransactionDesc:   truncate(desc, 13),
	}, &res)
	if err != nil {
		return "", err
	}
	if res.ResponseCode != "0" || res.CheckoutRequestID == "" {
		return "", fmt.Errorf("%w: stk push %s: %s", ErrRejected, res.ResponseCode, res.ResponseDescription)
	}

	c.log.Info().
		Str("reference", req.Reference).
		Str("provider_ref", res.CheckoutRequestID).
		Int64("amount", amount).
		Msg("STK push submitted")
	return res.CheckoutRequestID, nil
}

// QueryCollection asks the rail for the status of an STK push. A prompt the
// customer has not answered yet comes back as Pending.
func (c *Client) QueryCollection(ctx context.Context, providerRef string) (*domain.CollectionResult, error) {
	password, ts := c.password()

	var res stkQueryResponse
	err := c.post(ctx, "/mpesa/stkpushquery/v1/query", stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         ts,
		CheckoutRequestID: providerRef,
	}, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == processingCode {
			return &domain.CollectionResult{ProviderRef: providerRef, Pending: true, ResultDesc: apiErr.Message}, nil
		}
		return nil, err
	}

	code, err := strconv.Atoi(res.ResultCode)
	if err != nil {
		return &domain.CollectionResult{ProviderRef: providerRef, Pending: true, ResultDesc: res.ResultDesc}, nil
	}
	return &domain.CollectionResult{
		ProviderRef: providerRef,
		ResultCode:  code,
		ResultDesc:  res.ResultDesc,
	}, nil
}

// wholeAmount rounds to whole shillings; the rail rejects fractional amounts.
func wholeAmount(d decimal.Decimal) (int64, error) {
	v := d.Round(0)
	if v.LessThan(decimal.NewFromInt(1)) {
		return 0, domain.ErrInvalidAmount
	}
	return v.IntPart(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
