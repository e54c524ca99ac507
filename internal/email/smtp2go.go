// Package email delivers transactional mail through the SMTP2GO HTTP API.
// Every send returns a plain bool; callers decide whether a failed delivery
// is fatal for their flow.
package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

type Config struct {
	APIKey   string
	Endpoint string
	Sender   string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.smtp2go.com/v3"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type sendRequest struct {
	Sender   string   `json:"sender"`
	To       []string `json:"to"`
	Subject  string   `json:"subject"`
	TextBody string   `json:"text_body"`
}

type sendResponse struct {
	Data struct {
		Succeeded int `json:"succeeded"`
	} `json:"data"`
}

func (c *Client) send(to, subject, body string) bool {
	if c.cfg.APIKey == "" {
		log.Printf("smtp2go: api key missing, not sending to %s", to)
		return false
	}
	payload, err := json.Marshal(sendRequest{
		Sender:   c.cfg.Sender,
		To:       []string{to},
		Subject:  subject,
		TextBody: body,
	})
	if err != nil {
		log.Printf("smtp2go: marshal payload: %v", err)
		return false
	}
	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/email/send"
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Printf("smtp2go: new request: %v", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Smtp2go-Api-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("smtp2go: send to %s: %v", to, err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("smtp2go: send to %s: status %d: %s", to, resp.StatusCode, strings.TrimSpace(string(raw)))
		return false
	}
	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Printf("smtp2go: parse response: %v", err)
		return false
	}
	if out.Data.Succeeded != 1 {
		log.Printf("smtp2go: send to %s rejected: %s", to, strings.TrimSpace(string(raw)))
		return false
	}
	return true
}

const feedbackRequestTemplate = `Hi,

%s has asked for your feedback as part of a 360 feedback process on Feedback to Me.

Your answers are anonymised before anyone sees them. Use the link below to share your feedback:

%s

Thanks for helping out!
The Feedback to Me team`

const confirmationTemplate = `Hi %s,

Thanks for signing up to Feedback to Me. Please confirm your email address by following this link:

%s

If you didn't create an account, you can ignore this email.
The Feedback to Me team`

const passwordResetTemplate = `Hi %s,

Someone asked to reset the password for your Feedback to Me account. Follow this link to choose a new password:

%s

If this wasn't you, you can ignore this email.
The Feedback to Me team`

// SendFeedbackRequest emails a respondent their magic link.
func (c *Client) SendFeedbackRequest(to, link, firstName, company string) bool {
	from := firstName
	if company != "" {
		from = fmt.Sprintf("%s (%s)", firstName, company)
	}
	return c.send(to, "Feedback Request from Feedback to Me", fmt.Sprintf(feedbackRequestTemplate, from, link))
}

// SendConfirmation emails a new account its confirmation link.
func (c *Client) SendConfirmation(to, link, firstName string) bool {
	return c.send(to, "Please Confirm Your Email Address", fmt.Sprintf(confirmationTemplate, firstName, link))
}

// SendPasswordReset emails a password reset link.
func (c *Client) SendPasswordReset(to, link, firstName string) bool {
	return c.send(to, "Reset Your Feedback to Me Password", fmt.Sprintf(passwordResetTemplate, firstName, link))
}
