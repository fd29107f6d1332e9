package twitterapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tweetwatch/internal/domain"
	"tweetwatch/internal/infra/metrics"
)

// Код провайдера "участник не состоит в списке".
const codeNotAMember = 110

// APIError — ошибка провайдера с его собственным кодом.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitter api: код %d: %s", e.Code, e.Message)
}

type errorEnvelope struct {
	Errors []APIError `json:"errors"`
}

// Client реализует domain.TwitterAPI поверх REST API провайдера.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

var _ domain.TwitterAPI = (*Client)(nil)

// NewClient создаёт клиент API.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("twitter", method, path, start, err)
	if err != nil {
		return fmt.Errorf("выполнение запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var envelope errorEnvelope
		if jsonErr := json.Unmarshal(data, &envelope); jsonErr == nil && len(envelope.Errors) > 0 {
			apiErr := envelope.Errors[0]
			return &apiErr
		}
		return fmt.Errorf("twitter api: статус %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("разбор ответа: %w", err)
	}
	return nil
}

type rawProfile struct {
	IDStr       string `json:"id_str"`
	ScreenName  string `json:"screen_name"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (r rawProfile) toDomain() domain.Profile {
	return domain.Profile{
		ID:          r.IDStr,
		ScreenName:  r.ScreenName,
		Name:        r.Name,
		Description: r.Description,
	}
}

// VerifyCredentials возвращает профиль владельца учётных данных.
func (c *Client) VerifyCredentials(ctx context.Context) (domain.Profile, error) {
	var raw rawProfile
	if err := c.do(ctx, http.MethodGet, "/account/verify_credentials.json", nil, &raw); err != nil {
		return domain.Profile{}, err
	}
	return raw.toDomain(), nil
}

// GetUserProfile возвращает профиль по имени аккаунта.
func (c *Client) GetUserProfile(ctx context.Context, username string) (domain.Profile, error) {
	query := url.Values{"screen_name": {username}}
	var raw rawProfile
	if err := c.do(ctx, http.MethodGet, "/users/show.json", query, &raw); err != nil {
		return domain.Profile{}, err
	}
	return raw.toDomain(), nil
}

type membersPage struct {
	Users         []rawProfile `json:"users"`
	NextCursorStr string       `json:"next_cursor_str"`
}

// ListMembers возвращает всех участников списка, выгребая пагинацию
// провайдера до конца.
func (c *Client) ListMembers(ctx context.Context, listID string) ([]domain.Profile, error) {
	var members []domain.Profile
	cursor := "-1"
	for {
		query := url.Values{
			"list_id": {listID},
			"cursor":  {cursor},
			"count":   {"200"},
		}
		var page membersPage
		if err := c.do(ctx, http.MethodGet, "/lists/members.json", query, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Users {
			members = append(members, raw.toDomain())
		}
		if page.NextCursorStr == "" || page.NextCursorStr == "0" {
			return members, nil
		}
		cursor = page.NextCursorStr
	}
}

// ListAddMember добавляет аккаунт во внешний список.
func (c *Client) ListAddMember(ctx context.Context, listID, userID string) error {
	query := url.Values{"list_id": {listID}, "user_id": {userID}}
	return c.do(ctx, http.MethodPost, "/lists/members/create.json", query, nil)
}

// ListRemoveMember убирает аккаунт из внешнего списка. Отсутствие
// аккаунта в списке не считается ошибкой.
func (c *Client) ListRemoveMember(ctx context.Context, listID, userID string) error {
	query := url.Values{"list_id": {listID}, "user_id": {userID}}
	err := c.do(ctx, http.MethodPost, "/lists/members/destroy.json", query, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeNotAMember {
		return nil
	}
	return err
}
