package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	// defaultTwilioAPIBase はTwilio REST APIのベースURL。
	defaultTwilioAPIBase = "https://api.twilio.com"
	// maxErrorBodySize はエラーレスポンスとして読み取る最大バイト数。
	maxErrorBodySize = 4096
)

// Credentials はTwilioの認証情報。
type Credentials struct {
	AccountSID          string
	AuthToken           string
	MessagingServiceSID string
}

// Missing は未設定の認証情報の環境変数名を返す。
func (c Credentials) Missing() []string {
	var missing []string
	if c.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if c.AuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if c.MessagingServiceSID == "" {
		missing = append(missing, "TWILIO_MESSAGING_SERVICE_SID")
	}
	return missing
}

// ProviderError はSMSプロバイダが2xx以外を返した場合のエラー。
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("SMSプロバイダがステータス %d を返しました: %s", e.StatusCode, e.Body)
}

// TwilioSender はTwilio Messages APIでSMSを送信する。
type TwilioSender struct {
	httpClient  *http.Client
	credentials Credentials
	apiBase     string
}

// NewTwilioSender はTwilioSenderを生成する。
// apiBaseが空の場合はTwilioの本番エンドポイントを使用する。
func NewTwilioSender(httpClient *http.Client, credentials Credentials, apiBase string) *TwilioSender {
	if apiBase == "" {
		apiBase = defaultTwilioAPIBase
	}
	return &TwilioSender{
		httpClient:  httpClient,
		credentials: credentials,
		apiBase:     strings.TrimRight(apiBase, "/"),
	}
}

// Send はJobをフォームエンコードしてMessages APIへPOSTする。
// 2xx以外の応答は*ProviderErrorとして返す。再送は行わない。
func (s *TwilioSender) Send(ctx context.Context, job Job) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		s.apiBase, url.PathEscape(s.credentials.AccountSID))

	form := url.Values{}
	form.Set("To", "+1"+job.Phone)
	form.Set("MessagingServiceSid", s.credentials.MessagingServiceSID)
	form.Set("Body", job.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.SetBasicAuth(s.credentials.AccountSID, s.credentials.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("SMSプロバイダへのリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	// 接続再利用のためボディを読み捨てる
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
