package market

import (
	"errors"
	"sync"
	"time"
)

// Quote is a single snapshot from the data feed.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	BidSize   int
	AskSize   int
	TradeSize int
	Time      time.Time
}

// Valid reports whether the quote carries tradeable prices. Feeds hand out
// zeroed quotes outside market hours.
func (q Quote) Valid() bool {
	return q.Bid != 0 && q.Ask != 0 && q.Last != 0
}

func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Subscription identifies one registered quote callback so it can be torn
// down later.
type Subscription struct {
	Symbol string
	ID     int
}

// QuoteFeed delivers asynchronous quote snapshots for subscribed symbols.
// Callbacks run on the feed's goroutine and must return quickly.
type QuoteFeed interface {
	Subscribe(symbol string, fn func(Quote)) (Subscription, error)
	Unsubscribe(sub Subscription) error
}

type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[string]Quote)}
}

func (qs *QuoteStore) Set(q Quote) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.quotes[q.Symbol] = q
}

func (qs *QuoteStore) Get(symbol string) (Quote, error) {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	q, ok := qs.quotes[symbol]
	if !ok {
		return Quote{}, errors.New("quote not found")
	}
	return q, nil
}
