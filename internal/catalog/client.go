// Package catalog reads products and categories from the remote store API.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

var ErrProductNotFound = errors.New("product not found")

// Query filters a product listing. Zero values are left out of the request.
type Query struct {
	Search   string
	Category string
	Page     int
	Limit    int
}

func (q Query) values() url.Values {
	v := url.Values{}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (c *Client) ListProducts(ctx context.Context, q Query) ([]models.Product, error) {
	c.logger.WithFields(logrus.Fields{
		"search":   q.Search,
		"category": q.Category,
		"page":     q.Page,
	}).Debug("Fetching products")

	path := "/api/v1/product"
	if enc := q.values().Encode(); enc != "" {
		path += "?" + enc
	}

	var resp envelope[[]models.Product]
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []models.Product{}
	}

	c.logger.WithField("count", len(resp.Data)).Debug("Retrieved products")
	return resp.Data, nil
}

func (c *Client) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var resp envelope[*models.Product]
	if err := c.get(ctx, "/api/v1/product/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, ErrProductNotFound
	}
	return resp.Data, nil
}

func (c *Client) ListCategories(ctx context.Context) ([]models.Category, error) {
	var resp envelope[[]models.Category]
	if err := c.get(ctx, "/api/v1/category", &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []models.Category{}
	}
	return resp.Data, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach store API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrProductNotFound
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("Store API returned error status")
		return fmt.Errorf("store API returned error status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode store API response: %w", err)
	}
	return nil
}
