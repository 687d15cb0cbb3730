package notifier

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"
)

type TelegramNotifier struct {
	Token   string
	ChatID  string
	Retries int
	Delay   time.Duration

	client *http.Client
}

func NewTelegramNotifier(token, chatID string, retries int, delay time.Duration) *TelegramNotifier {
	if retries < 1 {
		retries = 1
	}
	return &TelegramNotifier{
		Token:   token,
		ChatID:  chatID,
		Retries: retries,
		Delay:   delay,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.Token)
	resp, err := t.client.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry retries transient failures with a fixed delay. The last error
// is returned if every attempt fails.
func (t *TelegramNotifier) SendWithRetry(message string) error {
	var lastErr error
	for attempt := 1; attempt <= t.Retries; attempt++ {
		lastErr = t.Send(message)
		if lastErr == nil {
			return nil
		}
		log.Printf("Notifier | Send attempt %d/%d failed: %v", attempt, t.Retries, lastErr)
		if attempt < t.Retries {
			time.Sleep(t.Delay)
		}
	}
	return lastErr
}
