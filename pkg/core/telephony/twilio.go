// Package telephony drives live calls through the Twilio REST API, outside
// the media stream.
package telephony

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTwilioBaseURL is the Twilio REST endpoint.
const DefaultTwilioBaseURL = "https://api.twilio.com"

const (
	transferAnnouncement = "Please hold while I transfer you to a team member."
	transferFailed       = "I'm sorry, we couldn't connect you right now. Please try calling back later. Goodbye."
)

// ErrNotConfigured is returned when Twilio credentials are missing.
var ErrNotConfigured = errors.New("twilio credentials are not configured")

// APIError is a non-2xx Twilio response.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != 0 {
		return fmt.Sprintf("twilio error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("twilio error %d: %s", e.StatusCode, e.Message)
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

// Twilio updates live calls with new TwiML.
type Twilio struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultTwilioBaseURL
	}
	return &Twilio{
		accountSID: strings.TrimSpace(cfg.AccountSID),
		authToken:  strings.TrimSpace(cfg.AuthToken),
		baseURL:    base,
		httpClient: client,
	}
}

func (t *Twilio) Configured() bool {
	return t != nil && t.accountSID != "" && t.authToken != ""
}

// Transfer redirects the call to number. The caller hears a short
// announcement, and a closing message if the dial fails.
func (t *Twilio) Transfer(ctx context.Context, callSID, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return fmt.Errorf("transfer: number is required")
	}
	return t.updateCall(ctx, callSID, TransferTwiML(number))
}

// Hangup speaks message and ends the call.
func (t *Twilio) Hangup(ctx context.Context, callSID, message string) error {
	return t.updateCall(ctx, callSID, HangupTwiML(message))
}

// TransferTwiML is the document used by Transfer.
func TransferTwiML(number string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Response>`)
	writeSay(&b, transferAnnouncement)
	b.WriteString("<Dial>")
	writeEscaped(&b, number)
	b.WriteString("</Dial>")
	writeSay(&b, transferFailed)
	b.WriteString("</Response>")
	return b.String()
}

// HangupTwiML is the document used by Hangup.
func HangupTwiML(message string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Response>`)
	if message = strings.TrimSpace(message); message != "" {
		writeSay(&b, message)
	}
	b.WriteString("<Hangup/></Response>")
	return b.String()
}

func writeSay(b *strings.Builder, text string) {
	b.WriteString("<Say>")
	writeEscaped(b, text)
	b.WriteString("</Say>")
}

func writeEscaped(b *strings.Builder, text string) {
	_ = xml.EscapeText(b, []byte(text))
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *Twilio) updateCall(ctx context.Context, callSID, twiml string) error {
	if !t.Configured() {
		return ErrNotConfigured
	}
	callSID = strings.TrimSpace(callSID)
	if callSID == "" {
		return fmt.Errorf("call sid is required")
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json",
		t.baseURL, url.PathEscape(t.accountSID), url.PathEscape(callSID))
	form := url.Values{}
	form.Set("Twiml", twiml)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var parsed twilioError
		if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
			apiErr.Code = parsed.Code
			apiErr.Message = parsed.Message
		}
		return apiErr
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
