// SMS-PROSTO gateway client. All knowledge of the provider's wire contract
// lives here: GET requests with method/key query parameters, JSON responses
// with a nested response.msg / response.data shape, err_code "0" = accepted.
package smsprosto

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"staffnotify/internal/domain"
)

const (
	methodSend    = "push_msg"
	methodStatus  = "get_msg_status"
	methodBalance = "get_balance"
)

type Client struct {
	BaseURL string
	APIKey  string
	Sender  string
	HTTP    *http.Client
}

type SendOutcome struct {
	Success     bool
	SmsID       string
	ErrCode     string
	Error       string
	RawRequest  string
	RawResponse string
}

type StatusOutcome struct {
	Success     bool
	Status      string // "pending" | "delivered" | "error"
	Error       string
	RawResponse string
}

type BalanceOutcome struct {
	Success bool
	Balance float64
	Error   string
}

// Send pushes one message to one normalized phone number. Transport failures
// (timeout, connection errors, unreadable body) come back as a failed outcome
// with Error set; provider-reported rejections carry ErrCode. The caller owns
// any retry decision.
func (c *Client) Send(ctx context.Context, phone, text string) SendOutcome {
	phone = NormalizePhone(phone)

	params := url.Values{}
	params.Set("method", methodSend)
	params.Set("key", c.APIKey)
	params.Set("text", text)
	params.Set("phone", phone)
	params.Set("sender_name", c.Sender)
	params.Set("format", "json")

	rawReq := c.requestLog(methodSend, map[string]string{
		"text":        text,
		"phone":       phone,
		"sender_name": c.Sender,
	})

	body, err := c.get(ctx, params)
	if err != nil {
		return SendOutcome{Error: err.Error(), RawRequest: rawReq}
	}

	var env apiEnvelope
	if jsonErr := json.Unmarshal(body, &env); jsonErr == nil && env.Response != nil && env.Response.Msg != nil {
		msg := env.Response.Msg
		if msg.ErrCode.String() == "0" {
			var id string
			if env.Response.Data != nil {
				id = env.Response.Data.ID.String()
			}
			return SendOutcome{
				Success:     true,
				SmsID:       id,
				ErrCode:     "0",
				RawRequest:  rawReq,
				RawResponse: string(body),
			}
		}
		errText := msg.Text
		if errText == "" {
			errText = "Error code: " + msg.ErrCode.String()
		}
		return SendOutcome{
			ErrCode:     msg.ErrCode.String(),
			Error:       errText,
			RawRequest:  rawReq,
			RawResponse: string(body),
		}
	}

	// Legacy gateway builds answer with a bare top-level id. This is the one
	// accepted deviation from the documented shape.
	var legacy legacySendResponse
	if jsonErr := json.Unmarshal(body, &legacy); jsonErr == nil {
		if id := legacy.messageID(); id != "" {
			return SendOutcome{
				Success:     true,
				SmsID:       id,
				RawRequest:  rawReq,
				RawResponse: string(body),
			}
		}
	}

	return SendOutcome{
		Error:       "unexpected API response format",
		RawRequest:  rawReq,
		RawResponse: string(body),
	}
}

// CheckStatus asks the provider for the delivery state of an accepted message.
// Provider codes: 1 -> delivered, 2 and 3 -> error, anything else -> pending.
func (c *Client) CheckStatus(ctx context.Context, smsID string) StatusOutcome {
	params := url.Values{}
	params.Set("method", methodStatus)
	params.Set("key", c.APIKey)
	params.Set("id", smsID)
	params.Set("format", "json")

	body, err := c.get(ctx, params)
	if err != nil {
		return StatusOutcome{Error: err.Error()}
	}

	var env apiEnvelope
	if jsonErr := json.Unmarshal(body, &env); jsonErr == nil && env.Response != nil && env.Response.Msg != nil {
		status := "pending"
		switch env.Response.Msg.Status.String() {
		case "1":
			status = "delivered"
		case "2", "3":
			status = "error"
		}
		return StatusOutcome{Success: true, Status: status, RawResponse: string(body)}
	}

	return StatusOutcome{
		Error:       "unexpected status response format",
		RawResponse: string(body),
	}
}

// Balance queries remaining account funds.
func (c *Client) Balance(ctx context.Context) BalanceOutcome {
	params := url.Values{}
	params.Set("method", methodBalance)
	params.Set("key", c.APIKey)
	params.Set("format", "json")

	body, err := c.get(ctx, params)
	if err != nil {
		return BalanceOutcome{Error: err.Error()}
	}

	var env apiEnvelope
	if jsonErr := json.Unmarshal(body, &env); jsonErr == nil && env.Response != nil && env.Response.Msg != nil {
		msg := env.Response.Msg
		if msg.ErrCode.String() != "0" {
			errText := msg.Text
			if errText == "" {
				errText = DescribeError(msg.ErrCode.String())
			}
			return BalanceOutcome{Error: errText}
		}
		var raw string
		if env.Response.Data != nil {
			raw = env.Response.Data.Balance.String()
			if raw == "" {
				raw = env.Response.Data.Credits.String()
			}
		}
		return BalanceOutcome{Success: true, Balance: parseFloat(raw)}
	}

	return BalanceOutcome{Error: "unexpected API response format"}
}

// MapStatus translates a provider delivery state into the notification status
// stored on the record. A still-pending message keeps the row in "sending".
func MapStatus(providerStatus string) domain.NotificationStatus {
	switch providerStatus {
	case "delivered":
		return domain.StatusDelivered
	case "error":
		return domain.StatusError
	default:
		return domain.StatusSending
	}
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// requestLog mirrors the outbound call for the audit trail with the API key
// masked.
func (c *Client) requestLog(method string, fields map[string]string) string {
	masked := "NOT_SET"
	if c.APIKey != "" {
		key := c.APIKey
		if len(key) > 4 {
			key = key[:4]
		}
		masked = key + "***"
	}
	entry := map[string]string{
		"method": method,
		"key":    masked,
		"format": "json",
	}
	for k, v := range fields {
		entry[k] = v
	}
	b, _ := json.Marshal(entry)
	return string(b)
}
