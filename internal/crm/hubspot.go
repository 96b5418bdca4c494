package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/david/deal-pulse/internal/config"
	"github.com/david/deal-pulse/internal/pipeline"
)

var dealProperties = []string{
	"dealname",
	"amount",
	"dealstage",
	"hubspot_owner_id",
	"createdate",
	"closedate",
	"notes_last_updated",
	"hs_lastmodifieddate",
	"pipeline",
	"hs_deal_stage_probability",
}

// HubSpotClient reads deals and owners from the HubSpot CRM v3 API.
type HubSpotClient struct {
	Client     *http.Client
	BaseURL    string
	tokens     TokenProvider
	limiter    *rate.Limiter
	pageSize   int
	maxRetries int
	logger     *zap.Logger
}

func NewHubSpotClient(tokens TokenProvider, cfg config.CRMConfig, logger *zap.Logger) *HubSpotClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 8
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.hubapi.com"
	}

	return &HubSpotClient{
		Client:     &http.Client{Timeout: timeout},
		BaseURL:    baseURL,
		tokens:     tokens,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		pageSize:   pageSize,
		maxRetries: cfg.MaxRetries,
		logger:     logger.With(zap.String("crm", "hubspot")),
	}
}

type hubspotPaging struct {
	Next *struct {
		After string `json:"after"`
	} `json:"next"`
}

func (p *hubspotPaging) after() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return p.Next.After
}

type hubspotDealsResponse struct {
	Results []struct {
		ID         string             `json:"id"`
		Properties map[string]*string `json:"properties"`
	} `json:"results"`
	Paging *hubspotPaging `json:"paging"`
}

type hubspotOwnersResponse struct {
	Results []struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"results"`
	Paging *hubspotPaging `json:"paging"`
}

// Ready confirms a usable access token exists, refreshing it if needed.
func (c *HubSpotClient) Ready(ctx context.Context) error {
	_, err := c.token(ctx)
	return err
}

func (c *HubSpotClient) FetchDealsPage(ctx context.Context, cursor string) (pipeline.DealPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("properties", strings.Join(dealProperties, ","))
	if cursor != "" {
		q.Set("after", cursor)
	}

	var resp hubspotDealsResponse
	if err := c.getJSON(ctx, "/crm/v3/objects/deals", q, &resp); err != nil {
		return pipeline.DealPage{}, err
	}

	page := pipeline.DealPage{
		Deals:      make([]pipeline.RawDeal, 0, len(resp.Results)),
		NextCursor: resp.Paging.after(),
	}
	for _, r := range resp.Results {
		prop := func(key string) string {
			if v := r.Properties[key]; v != nil {
				return *v
			}
			return ""
		}
		page.Deals = append(page.Deals, pipeline.RawDeal{
			ID:               r.ID,
			Name:             prop("dealname"),
			Amount:           prop("amount"),
			Stage:            prop("dealstage"),
			Pipeline:         prop("pipeline"),
			OwnerID:          prop("hubspot_owner_id"),
			CreateDate:       prop("createdate"),
			CloseDate:        prop("closedate"),
			LastModifiedDate: prop("hs_lastmodifieddate"),
			NotesLastUpdated: prop("notes_last_updated"),
		})
	}

	c.logger.Debug("fetched deal page", zap.Int("deals", len(page.Deals)), zap.Bool("more", page.NextCursor != ""))
	return page, nil
}

// FetchOwners walks every page of the owners listing.
func (c *HubSpotClient) FetchOwners(ctx context.Context) ([]pipeline.Owner, error) {
	var owners []pipeline.Owner
	after := ""
	for {
		q := url.Values{}
		q.Set("limit", "100")
		if after != "" {
			q.Set("after", after)
		}

		var resp hubspotOwnersResponse
		if err := c.getJSON(ctx, "/crm/v3/owners", q, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			owners = append(owners, pipeline.Owner{
				ID:        r.ID,
				FirstName: r.FirstName,
				LastName:  r.LastName,
				Email:     r.Email,
			})
		}

		next := resp.Paging.after()
		if next == "" || next == after {
			break
		}
		after = next
	}
	c.logger.Debug("fetched owners", zap.Int("owners", len(owners)))
	return owners, nil
}

// token fetches the access token, refreshing over the client's own
// timeout-bound HTTP client.
func (c *HubSpotClient) token(ctx context.Context) (*oauth2.Token, error) {
	if c.tokens == nil {
		return nil, fmt.Errorf("%w: no token provider", pipeline.ErrTokenUnavailable)
	}
	tok, err := c.tokens.Token(context.WithValue(ctx, oauth2.HTTPClient, c.Client))
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		if errors.Is(err, pipeline.ErrTokenUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", pipeline.ErrTokenUnavailable, err)
	}
	if !tok.Valid() {
		return nil, fmt.Errorf("%w: access token expired", pipeline.ErrTokenUnavailable)
	}
	return tok, nil
}

// getJSON issues a paced GET and decodes the body into out. Rate limiting
// (429) and server errors are retried with backoff.
func (c *HubSpotClient) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := c.BaseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		tok, err := c.token(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		tok.SetAuthHeader(req)

		resp, err := c.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < c.maxRetries {
				c.logger.Warn("request failed, retrying", zap.String("path", path), zap.Int("attempt", attempt+1), zap.Error(err))
				if err := sleep(ctx, backoff(attempt, "")); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("API request failed: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("decoding %s response: %w", path, err)
			}
			return nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: API returned 401: %s", pipeline.ErrTokenUnavailable, string(body))
		case (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries:
			wait := backoff(attempt, resp.Header.Get("Retry-After"))
			c.logger.Warn("retrying HubSpot request",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.Duration("wait", wait),
			)
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		default:
			return fmt.Errorf("API returned %d: %s", resp.StatusCode, string(body))
		}
	}
}

func backoff(attempt int, retryAfter string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	d := 500 * time.Millisecond << attempt
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
