package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HermesClient reads the latest parsed price update from a Hermes-compatible
// price service.
type HermesClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewHermesClient(baseURL string) *HermesClient {
	return &HermesClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesResponse struct {
	Parsed []struct {
		ID    string      `json:"id"`
		Price hermesPrice `json:"price"`
	} `json:"parsed"`
}

func (c *HermesClient) ReadPrice(ctx context.Context, feed string) (PriceQuote, error) {
	q := url.Values{}
	q.Add("ids[]", feed)
	q.Set("parsed", "true")
	endpoint := c.BaseURL + "/v2/updates/price/latest?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("hermes request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrUnknownFeed, feed)
	}
	if resp.StatusCode != http.StatusOK {
		return PriceQuote{}, fmt.Errorf("hermes status %d", resp.StatusCode)
	}

	var body hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return PriceQuote{}, fmt.Errorf("hermes decode: %w", err)
	}
	want := strings.TrimPrefix(strings.ToLower(feed), "0x")
	for _, p := range body.Parsed {
		if strings.TrimPrefix(strings.ToLower(p.ID), "0x") != want {
			continue
		}
		price, err := strconv.ParseInt(p.Price.Price, 10, 64)
		if err != nil {
			return PriceQuote{}, fmt.Errorf("hermes price: %w", err)
		}
		conf, err := strconv.ParseUint(p.Price.Conf, 10, 64)
		if err != nil {
			return PriceQuote{}, fmt.Errorf("hermes conf: %w", err)
		}
		quote := PriceQuote{Price: price, Expo: p.Price.Expo, Conf: conf, PublishTime: p.Price.PublishTime}
		if !quote.ExpoInRange() {
			return PriceQuote{}, fmt.Errorf("%w: %s expo %d", ErrBadExponent, feed, quote.Expo)
		}
		return quote, nil
	}
	return PriceQuote{}, fmt.Errorf("%w: %s", ErrUnknownFeed, feed)
}
