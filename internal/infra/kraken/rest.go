package kraken

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"krader/internal/domain"
	"krader/internal/infra"
)

// restSymbolOverrides maps base symbols the REST API spells differently
// from the streaming feed.
var restSymbolOverrides = map[string]string{
	"BTC": "XBT",
}

// RestCode returns the pair symbol as the REST API expects it
// (e.g. BTC/USD -> XBTUSD).
func RestCode(pair domain.Pair) string {
	base := pair.Base
	if o, ok := restSymbolOverrides[base]; ok {
		base = o
	}
	return base + pair.Quote
}

// PairMeta is the reference metadata for one tradeable pair.
type PairMeta struct {
	WSName        string `json:"wsname"`
	Base          string `json:"base"`
	Quote         string `json:"quote"`
	PriceDecimals int    `json:"pair_decimals"`
	LotDecimals   int    `json:"lot_decimals"`
	OrderMin      string `json:"ordermin"`
}

// RestTicker is the REST ticker summary for one pair, used to prime
// state before the stream warms up.
type RestTicker struct {
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume24h decimal.Decimal
}

// restEnvelope is the REST API's outer response shape.
type restEnvelope struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// restTickerData mirrors the REST ticker payload: each field is an
// array whose head is the interesting value.
type restTickerData struct {
	C []decimal.Decimal `json:"c"` // last trade [price, lot volume]
	B []decimal.Decimal `json:"b"` // best bid [price, whole lot volume, lot volume]
	A []decimal.Decimal `json:"a"` // best ask [price, whole lot volume, lot volume]
	V []decimal.Decimal `json:"v"` // volume [today, last 24 hours]
}

// RESTClient fetches reference data from the exchange REST API. All
// responses come back as raw payload bytes so the request cache can
// store them; typed accessors parse on top.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRESTClient creates a REST client for the given base URL.
func NewRESTClient(baseURL string) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// AssetPair fetches reference metadata for one pair as a raw payload.
func (c *RESTClient) AssetPair(ctx context.Context, pair domain.Pair) ([]byte, error) {
	return c.get(ctx, "/0/public/AssetPairs", url.Values{"pair": {RestCode(pair)}})
}

// Ticker fetches the REST ticker summary for one pair as a raw payload.
func (c *RESTClient) Ticker(ctx context.Context, pair domain.Pair) ([]byte, error) {
	return c.get(ctx, "/0/public/Ticker", url.Values{"pair": {RestCode(pair)}})
}

// ParseAssetPair extracts the pair metadata from an AssetPairs payload.
func ParseAssetPair(payload []byte) (*PairMeta, error) {
	result, err := unwrapResult(payload)
	if err != nil {
		return nil, err
	}
	for _, raw := range result {
		var meta PairMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("asset pair entry: %w", err)
		}
		return &meta, nil
	}
	return nil, fmt.Errorf("asset pair response has empty result")
}

// ParseTicker extracts the ticker summary from a Ticker payload.
func ParseTicker(payload []byte) (*RestTicker, error) {
	result, err := unwrapResult(payload)
	if err != nil {
		return nil, err
	}
	for _, raw := range result {
		var data restTickerData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("ticker entry: %w", err)
		}
		if len(data.C) == 0 || len(data.B) == 0 || len(data.A) == 0 {
			return nil, fmt.Errorf("ticker entry missing price fields")
		}
		t := &RestTicker{
			Last: data.C[0],
			Bid:  data.B[0],
			Ask:  data.A[0],
		}
		if len(data.V) > 1 {
			t.Volume24h = data.V[1]
		}
		return t, nil
	}
	return nil, fmt.Errorf("ticker response has empty result")
}

func unwrapResult(payload []byte) (map[string]json.RawMessage, error) {
	var env restEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if len(env.Error) > 0 {
		return nil, fmt.Errorf("rest api error: %s", strings.Join(env.Error, "; "))
	}
	return env.Result, nil
}

func (c *RESTClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("get "+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
