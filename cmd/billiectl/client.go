package main

import (
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
)

func newClient(apiURL string) *resty.Client {
	return resty.New().
		SetBaseURL(apiURL).
		SetTimeout(2 * time.Minute).
		SetHeader("Content-Type", "application/json")
}

func checkStatus(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return fmt.Errorf("http %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func runChat(apiURL, threadID, phone, message string, out io.Writer) error {
	var result struct {
		Reply string `json:"reply"`
	}
	resp, err := newClient(apiURL).R().
		SetBody(map[string]string{
			"thread_id":    threadID,
			"phone_number": phone,
			"message":      message,
		}).
		SetResult(&result).
		Post("/api/chat")
	if err := checkStatus(resp, err); err != nil {
		return err
	}
	fmt.Fprintln(out, result.Reply)
	return nil
}

func runClearThread(apiURL, threadID string, out io.Writer) error {
	resp, err := newClient(apiURL).R().
		Delete("/api/threads/" + threadID)
	if err := checkStatus(resp, err); err != nil {
		return err
	}
	fmt.Fprintf(out, "thread %s cleared\n", threadID)
	return nil
}

func runSweep(apiURL string, out io.Writer) error {
	var result struct {
		Cleared int `json:"cleared"`
	}
	resp, err := newClient(apiURL).R().
		SetResult(&result).
		Post("/api/threads/sweep")
	if err := checkStatus(resp, err); err != nil {
		return err
	}
	fmt.Fprintf(out, "cleared %d expired thread(s)\n", result.Cleared)
	return nil
}

func runVerify(apiURL, phone, sessionID string, out io.Writer) error {
	var result struct {
		AccountID string `json:"account_id"`
	}
	resp, err := newClient(apiURL).R().
		SetBody(map[string]string{"phone_number": phone, "session_id": sessionID}).
		SetResult(&result).
		Post("/api/verification/verify")
	if err := checkStatus(resp, err); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s verified against account %s\n", phone, result.AccountID)
	return nil
}

func runVerificationStatus(apiURL, phone string, out io.Writer) error {
	resp, err := newClient(apiURL).R().
		Get("/api/verification/status?phone=" + phone)
	if err := checkStatus(resp, err); err != nil {
		return err
	}
	fmt.Fprintln(out, resp.String())
	return nil
}
