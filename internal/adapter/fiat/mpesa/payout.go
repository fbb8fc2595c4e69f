package mpesa

import (
	"context"
	"fmt"

	"settlement-engine/internal/core/ports"
)

type b2cRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID,omitempty"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   int64  `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion"`
}

type b2bRequest struct {
	Initiator              string `json:"Initiator"`
	SecurityCredential     string `json:"SecurityCredential"`
	CommandID              string `json:"CommandID"`
	Amount                 int64  `json:"Amount"`
	PartyA                 string `json:"PartyA"`
	SenderIdentifierType   string `json:"SenderIdentifierType"`
	PartyB                 string `json:"PartyB"`
	RecieverIdentifierType string `json:"RecieverIdentifierType"` // sic, the API's spelling
	AccountReference       string `json:"AccountReference"`
	Remarks                string `json:"Remarks"`
	QueueTimeOutURL        string `json:"QueueTimeOutURL"`
	ResultURL              string `json:"ResultURL"`
}

type payoutResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// InitiatePayout disburses to a phone (B2C), a paybill or a till (B2B) and
// returns the ConversationID the result callback will carry.
func (c *Client) InitiatePayout(ctx context.Context, req ports.PayoutRequest) (string, error) {
	amount, err := wholeAmount(req.Amount)
	if err != nil {
		return "", err
	}

	var (
		path    string
		payload any
	)
	switch req.Kind {
	case ports.PayoutToPhone, "":
		path = "/mpesa/b2c/v1/paymentrequest"
		payload = b2cRequest{
			OriginatorConversationID: req.Reference,
			InitiatorName:            c.cfg.InitiatorName,
			SecurityCredential:       c.cfg.SecurityCredential,
			CommandID:                "BusinessPayment",
			Amount:                   amount,
			PartyA:                   c.cfg.ShortCode,
			PartyB:                   NormalizePhone(req.Destination),
			Remarks:                  "Withdrawal",
			QueueTimeOutURL:          c.cfg.PayoutTimeoutURL,
			ResultURL:                c.cfg.PayoutResultURL,
			Occasion:                 req.Reference,
		}
	case ports.PayoutToPaybill, ports.PayoutToTill:
		command, receiver := "BusinessPayBill", "4"
		if req.Kind == ports.PayoutToTill {
			command, receiver = "BusinessBuyGoods", "2"
		}
		path = "/mpesa/b2b/v1/paymentrequest"
		payload = b2bRequest{
			Initiator:              c.cfg.InitiatorName,
			SecurityCredential:     c.cfg.SecurityCredential,
			CommandID:              command,
			Amount:                 amount,
			PartyA:                 c.cfg.ShortCode,
			SenderIdentifierType:   "4",
			PartyB:                 req.Destination,
			RecieverIdentifierType: receiver,
			AccountReference:       req.Account,
			Remarks:                "Withdrawal " + req.Reference,
			QueueTimeOutURL:        c.cfg.PayoutTimeoutURL,
			ResultURL:              c.cfg.PayoutResultURL,
		}
	default:
		return "", fmt.Errorf("mpesa: unknown payout kind %q", req.Kind)
	}

	var res payoutResponse
	if err := c.post(ctx, path, payload, &res); err != nil {
		return "", err
	}
	if res.ResponseCode != "0" || res.ConversationID == "" {
		return "", fmt.Errorf("%w: payout %s: %s", ErrRejected, res.ResponseCode, res.ResponseDescription)
	}

	c.log.Info().
		Str("reference", req.Reference).
		Str("kind", string(req.Kind)).
		Str("provider_ref", res.ConversationID).
		Int64("amount", amount).
		Msg("payout submitted")
	return res.ConversationID, nil
}
