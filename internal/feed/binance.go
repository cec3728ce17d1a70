package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// DefaultBinanceURL is the combined-stream endpoint the trade streams are appended to
const DefaultBinanceURL = "wss://stream.binance.us:9443/stream"

// BinanceConfig configures the Binance trade stream source
type BinanceConfig struct {
	URL              string
	Symbols          []string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	// ReconnectsPerMinute caps how often the source may redial, regardless of backoff
	ReconnectsPerMinute int
}

// DefaultBinanceConfig returns the default stream settings
func DefaultBinanceConfig(symbols ...string) BinanceConfig {
	return BinanceConfig{
		URL:                 DefaultBinanceURL,
		Symbols:             symbols,
		HandshakeTimeout:    10 * time.Second,
		ReadTimeout:         30 * time.Second,
		PingInterval:        15 * time.Second,
		InitialBackoff:      time.Second,
		MaxBackoff:          30 * time.Second,
		ReconnectsPerMinute: 6,
	}
}

// BinanceSource streams trades from the Binance combined trade stream
type BinanceSource struct {
	logger  *zap.Logger
	config  BinanceConfig
	limiter *rate.Limiter
}

// NewBinanceSource creates a Binance trade stream source
func NewBinanceSource(logger *zap.Logger, config BinanceConfig) (*BinanceSource, error) {
	if len(config.Symbols) == 0 {
		return nil, errors.New("feed: binance source requires at least one symbol")
	}
	if config.URL == "" {
		config.URL = DefaultBinanceURL
	}
	if config.ReconnectsPerMinute <= 0 {
		config.ReconnectsPerMinute = 6
	}
	return &BinanceSource{
		logger:  logger.Named("binance"),
		config:  config,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.ReconnectsPerMinute)), 1),
	}, nil
}

// Name implements Source
func (s *BinanceSource) Name() string { return "binance" }

// StreamURL builds the combined-stream URL for the configured symbols
func (s *BinanceSource) StreamURL() string {
	streams := make([]string, len(s.config.Symbols))
	for i, sym := range s.config.Symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	return fmt.Sprintf("%s?streams=%s", s.config.URL, strings.Join(streams, "/"))
}

// Run implements Source. Disconnects are retried with exponential backoff until ctx ends.
func (s *BinanceSource) Run(ctx context.Context, out chan<- types.Tick) error {
	url := s.StreamURL()
	backoff := s.config.InitialBackoff

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		err := s.consume(ctx, url, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("Binance stream disconnected, retrying",
			zap.Error(err),
			zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(s.config.MaxBackoff), float64(backoff)*1.8))
	}
}

func (s *BinanceSource) consume(ctx context.Context, url string, out chan<- types.Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.logger.Info("Connected to Binance trade stream", zap.Strings("symbols", s.config.Symbols))

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.pingLoop(pingCtx, conn)

	// unblock ReadMessage on shutdown
	go func() {
		<-pingCtx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, err := ParseBinanceMessage(message)
		if err != nil {
			s.logger.Debug("Dropping Binance message", zap.Error(err))
			continue
		}
		if err := emit(ctx, out, tick); err != nil {
			return err
		}
	}
}

func (s *BinanceSource) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Warn("Binance ping failed", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

type binanceEnvelope struct {
	Stream string        `json:"stream"`
	Data   *binanceTrade `json:"data"`
}

type binanceTrade struct {
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// ParseBinanceMessage decodes one combined-stream trade message. Errors wrap ErrMalformedPayload.
func ParseBinanceMessage(message []byte) (types.Tick, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return types.Tick{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Data == nil {
		return types.Tick{}, fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}

	symbol := strings.ToUpper(env.Data.Symbol)
	if symbol == "" {
		symbol = strings.ToUpper(strings.SplitN(env.Stream, "@", 2)[0])
	}
	price, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil {
		return types.Tick{}, fmt.Errorf("%w: price %q", ErrMalformedPayload, env.Data.Price)
	}
	qty, err := strconv.ParseFloat(env.Data.Quantity, 64)
	if err != nil {
		return types.Tick{}, fmt.Errorf("%w: quantity %q", ErrMalformedPayload, env.Data.Quantity)
	}

	tick := types.Tick{
		Symbol:    symbol,
		Price:     price,
		Volume:    qty,
		Timestamp: env.Data.TradeTime,
	}
	if err := validate(tick); err != nil {
		return types.Tick{}, err
	}
	return tick, nil
}
