package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oiunwind/engine/internal/config"
	"github.com/oiunwind/engine/internal/models"
	"github.com/oiunwind/engine/internal/retryx"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

// HTTPDoer is the minimal surface RESTAdapter needs from an HTTP client,
// satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Endpoints supplies the broker-specific URLs for each call. Keeping these
// as plain format strings (rather than a broker SDK type) keeps
// RESTAdapter broker-agnostic — broker authentication and transport
// specifics stay out of scope.
type Endpoints struct {
	SpotURL         string // GET, query: symbol, t
	ChainURL        string // GET, query: symbol, t, expiry
	LTPURL          string // GET, query: symbol, strike, type, expiry, t
	MarketStatusURL string // GET, query: t
	ExpiriesURL     string // GET, query: symbol
}

// Authorizer attaches broker credentials to an outgoing request.
type Authorizer interface {
	Authorize(req *http.Request)
}

// RESTAdapter is the live/paper market-data adapter: an HTTP client wrapped
// in retry-with-backoff, a circuit breaker against a flapping
// broker, and singleflight deduplication so concurrent calls for the same
// request URL share one in-flight fetch and its response body. The URL
// carries the timestamp at one-second resolution, so strategy- and
// exit-loop calls for the same URL in the same second can share a fetch;
// nothing is cached once that fetch returns.
type RESTAdapter struct {
	client    HTTPDoer
	endpoints Endpoints
	auth      Authorizer
	symbol    string
	retryCfg  retryx.Config
	log       *logrus.Logger
	breaker   *gobreaker.CircuitBreaker
	group     singleflight.Group
}

// NewRESTAdapter constructs a live adapter. client defaults to a 10s-timeout
// *http.Client when nil.
func NewRESTAdapter(symbol string, endpoints Endpoints, auth Authorizer, client HTTPDoer, log *logrus.Logger) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "marketdata",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("circuit breaker state change")
		},
	})
	return &RESTAdapter{
		client:    client,
		endpoints: endpoints,
		auth:      auth,
		symbol:    symbol,
		retryCfg:  retryx.DefaultConfig,
		log:       log,
		breaker:   breaker,
	}
}

func (a *RESTAdapter) getJSON(ctx context.Context, key, url string, out any) error {
	body, err, _ := a.group.Do(key, func() (any, error) {
		return a.breaker.Execute(func() (any, error) {
			var raw json.RawMessage
			err := retryx.Do(ctx, a.retryCfg, a.log, key, func(ctx context.Context) error {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				if err != nil {
					return err
				}
				if a.auth != nil {
					a.auth.Authorize(req)
				}
				resp, err := a.client.Do(req)
				if err != nil {
					return err
				}
				defer resp.Body.Close()
				if resp.StatusCode >= 500 {
					return fmt.Errorf("server error %d", resp.StatusCode)
				}
				if resp.StatusCode != http.StatusOK {
					return fmt.Errorf("unexpected status %d", resp.StatusCode)
				}
				return json.NewDecoder(resp.Body).Decode(&raw)
			})
			return raw, err
		})
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(body.(json.RawMessage), out)
}

type spotResponse struct {
	Price float64 `json:"price"`
}

// Spot fetches the underlying price at t.
func (a *RESTAdapter) Spot(ctx context.Context, t time.Time) (float64, error) {
	var resp spotResponse
	url := fmt.Sprintf("%s?symbol=%s&t=%d", a.endpoints.SpotURL, a.symbol, t.Unix())
	if err := a.getJSON(ctx, "spot:"+url, url, &resp); err != nil {
		return 0, models.ErrNoData
	}
	return resp.Price, nil
}

type chainResponse struct {
	Spot   float64              `json:"spot"`
	Quotes []chainQuoteResponse `json:"quotes"`
}

type chainQuoteResponse struct {
	Strike float64 `json:"strike"`
	Type   string  `json:"option_type"`
	Expiry string  `json:"expiry"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
	OI     int64   `json:"oi"`
	IV     float64 `json:"iv"`
	Delta  float64 `json:"delta"`
}

// Chain fetches the full options snapshot at t for the resolved expiry.
func (a *RESTAdapter) Chain(ctx context.Context, t time.Time, spot float64, strikesBelow, strikesAbove int, policy config.ExpiryPolicy) (*models.OptionsSnapshot, error) {
	expiry, err := a.ResolveExpiry(ctx, t, policy, false)
	if err != nil {
		return nil, err
	}
	var resp chainResponse
	url := fmt.Sprintf("%s?symbol=%s&t=%d&expiry=%s", a.endpoints.ChainURL, a.symbol, t.Unix(), expiry.Format("2006-01-02"))
	if err := a.getJSON(ctx, "chain:"+url, url, &resp); err != nil {
		return nil, models.ErrNoData
	}

	quotes := make([]models.OptionQuote, 0, len(resp.Quotes))
	for _, q := range resp.Quotes {
		optType, ok := models.ParseBrokerOptionType(q.Type)
		if !ok {
			continue
		}
		exp, err := time.Parse("2006-01-02", q.Expiry)
		if err != nil {
			continue
		}
		quotes = append(quotes, models.OptionQuote{
			Strike: q.Strike, OptionType: optType, Expiry: exp,
			Open: q.Open, High: q.High, Low: q.Low, Close: q.Close,
			Volume: q.Volume, OI: q.OI, Spot: resp.Spot, IV: q.IV, Delta: q.Delta,
		})
	}
	return models.NewOptionsSnapshot(t, resp.Spot, quotes), nil
}

type ltpResponse struct {
	Price float64 `json:"price"`
}

// LTP fetches the last traded price of one contract at t.
func (a *RESTAdapter) LTP(ctx context.Context, t time.Time, strike float64, optionType models.OptionType, expiry time.Time) (float64, error) {
	var resp ltpResponse
	url := fmt.Sprintf("%s?symbol=%s&strike=%.2f&type=%s&expiry=%s&t=%d",
		a.endpoints.LTPURL, a.symbol, strike, optionType, expiry.Format("2006-01-02"), t.Unix())
	// The dedup key includes t.Unix(), so only calls for the same contract
	// within the same second share an in-flight fetch; no result is cached
	// beyond that fetch.
	if err := a.getJSON(ctx, "ltp:"+url, url, &resp); err != nil {
		return 0, models.ErrNoData
	}
	return resp.Price, nil
}

type marketStatusResponse struct {
	Open bool `json:"open"`
}

// IsMarketOpen reports whether the broker considers the market open at t.
func (a *RESTAdapter) IsMarketOpen(ctx context.Context, t time.Time) (bool, error) {
	var resp marketStatusResponse
	url := fmt.Sprintf("%s?t=%d", a.endpoints.MarketStatusURL, t.Unix())
	if err := a.getJSON(ctx, "status:"+url, url, &resp); err != nil {
		return false, nil
	}
	return resp.Open, nil
}

type expiriesResponse struct {
	Expiries []string `json:"expiries"`
}

// ResolveExpiry fetches the broker's expiry calendar and applies the
// shared closest-future-expiry rule.
func (a *RESTAdapter) ResolveExpiry(ctx context.Context, t time.Time, policy config.ExpiryPolicy, skipMonTue bool) (time.Time, error) {
	var resp expiriesResponse
	url := fmt.Sprintf("%s?symbol=%s&policy=%s", a.endpoints.ExpiriesURL, a.symbol, policy)
	if err := a.getJSON(ctx, "expiries:"+url, url, &resp); err != nil {
		return time.Time{}, models.ErrNoFeasibleExpiry
	}
	var candidates []time.Time
	for _, e := range resp.Expiries {
		d, err := time.Parse("2006-01-02", e)
		if err != nil {
			continue
		}
		candidates = append(candidates, d)
	}
	return ResolveExpiryFromCandidates(t, candidates, skipMonTue)
}
