package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"settlement-engine/internal/core/domain"

	"github.com/shopspring/decimal"
)

// ErrMalformedCallback is returned for payloads without a correlation id.
var ErrMalformedCallback = errors.New("mpesa: malformed callback")

type stkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type resultCallback struct {
	Result struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
		ResultParameters         struct {
			ResultParameter []struct {
				Key   string `json:"Key"`
				Value any    `json:"Value"`
			} `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

// ParseCollectionCallback decodes an STK push callback.
func ParseCollectionCallback(payload []byte) (*domain.CollectionResult, error) {
	var cb stkCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return nil, ErrMalformedCallback
	}

	res := &domain.CollectionResult{
		ProviderRef: stk.CheckoutRequestID,
		ResultCode:  stk.ResultCode,
		ResultDesc:  stk.ResultDesc,
	}
	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			res.Amount = toDecimal(item.Value)
		case "MpesaReceiptNumber":
			res.ReceiptRef = toString(item.Value)
		case "PhoneNumber":
			res.Phone = toString(item.Value)
		}
	}
	return res, nil
}

// ParsePayoutCallback decodes a B2C/B2B result or queue-timeout callback.
func ParsePayoutCallback(payload []byte) (*domain.PayoutResult, error) {
	var cb resultCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	r := cb.Result
	if r.ConversationID == "" {
		return nil, ErrMalformedCallback
	}

	res := &domain.PayoutResult{
		ProviderRef:    r.ConversationID,
		ResultCode:     r.ResultCode,
		ResultDesc:     r.ResultDesc,
		TransactionRef: r.TransactionID,
		Parameters:     make(map[string]string, len(r.ResultParameters.ResultParameter)),
	}
	for _, p := range r.ResultParameters.ResultParameter {
		res.Parameters[p.Key] = toString(p.Value)
	}
	return res, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func toDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case float64:
		return decimal.NewFromFloat(t)
	case string:
		d, err := decimal.NewFromString(t)
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}
