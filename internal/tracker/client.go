package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// issueFields — поля задачи, запрашиваемые у Jira.
const issueFields = "summary,description,issuetype,attachment"

// maxErrorBody — сколько байт тела ошибки включать в сообщение.
const maxErrorBody = 512

// Client — HTTP-клиент Jira Cloud (REST API v3, basic auth email + API token).
type Client struct {
	httpClient *http.Client
	baseURL    string
	email      string
	apiToken   string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	logger     *slog.Logger
}

// New создаёт клиент Jira.
// baseURL — адрес инстанса (например, https://company.atlassian.net).
// timeout — таймаут HTTP-запросов (TA_JIRA_TIMEOUT).
func New(baseURL, email, apiToken string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		apiToken:   apiToken,
		logger:     logger.With(slog.String("component", "jira_client")),
	}
}

// BaseURL возвращает адрес инстанса Jira.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchIssue запрашивает задачу по ключу.
// GET /rest/api/3/issue/{key}?fields=summary,description,issuetype,attachment
func (c *Client) FetchIssue(ctx context.Context, issueKey string) (*Issue, error) {
	issue, err := c.fetch(ctx, issueKey)
	trackerRequestsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		c.logger.Warn("Ошибка получения задачи из Jira",
			slog.String("issue_key", issueKey),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	c.logger.Debug("Задача получена из Jira",
		slog.String("issue_key", issue.Key),
		slog.Int("attachments", len(issue.Attachments)),
	)
	return issue, nil
}

func (c *Client) fetch(ctx context.Context, issueKey string) (*Issue, error) {
	reqURL := fmt.Sprintf("%s/rest/api/3/issue/%s?fields=%s",
		c.baseURL, url.PathEscape(issueKey), url.QueryEscape(issueFields))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса к Jira: %w", err)
	}
	req.SetBasicAuth(c.email, c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, upstreamError(ErrUpstream, "запрос к Jira: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstreamError(ErrUpstream, "чтение ответа Jira: %v", err)
	}

	if err := checkResponse(resp.StatusCode, issueKey, body); err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, upstreamError(ErrUpstream, "некорректный JSON в ответе Jira")
	}

	return c.parseIssue(issueKey, gjson.ParseBytes(body)), nil
}

// checkResponse переводит HTTP-статус Jira в класс ошибки.
func checkResponse(status int, issueKey string, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusUnauthorized:
		return upstreamError(ErrAuth, "Jira отклонила учётные данные")
	case status == http.StatusForbidden:
		return upstreamError(ErrAuth, "forbidden: нет доступа к задаче %s", issueKey)
	case status == http.StatusNotFound:
		return upstreamError(ErrNotFound, "%s", issueKey)
	default:
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return upstreamError(ErrUpstream, "Jira вернула статус %d: %s", status, string(body))
	}
}

// parseIssue собирает Issue из ответа Jira.
func (c *Client) parseIssue(requestedKey string, doc gjson.Result) *Issue {
	key := doc.Get("key").String()
	if key == "" {
		key = requestedKey
	}
	fields := doc.Get("fields")

	issue := &Issue{
		Key:         key,
		Summary:     fields.Get("summary").String(),
		Description: ExtractText(fields.Get("description")),
		IssueType:   fields.Get("issuetype.name").String(),
		URL:         c.baseURL + "/browse/" + key,
	}
	fields.Get("attachment").ForEach(func(_, a gjson.Result) bool {
		issue.Attachments = append(issue.Attachments, Attachment{
			Filename: a.Get("filename").String(),
			MimeType: a.Get("mimeType").String(),
			Size:     a.Get("size").Int(),
		})
		return true
	})
	return issue
}
