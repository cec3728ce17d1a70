package feed_test

import (
	"errors"
	"testing"

	"github.com/atlas-desktop/alpha-engine/internal/feed"
)

func TestParseBinanceMessage(t *testing.T) {
	msg := []byte(`{"stream":"solusdt@trade","data":{"e":"trade","s":"SOLUSDT","p":"142.50","q":"3.2","T":1700000000123,"m":true}}`)

	tick, err := feed.ParseBinanceMessage(msg)
	if err != nil {
		t.Fatalf("Failed to parse message: %v", err)
	}
	if tick.Symbol != "SOLUSDT" {
		t.Errorf("Expected symbol SOLUSDT, got %s", tick.Symbol)
	}
	if tick.Price != 142.5 || tick.Volume != 3.2 {
		t.Errorf("Expected price 142.5 volume 3.2, got %v %v", tick.Price, tick.Volume)
	}
	if tick.Timestamp != 1700000000123 {
		t.Errorf("Expected timestamp 1700000000123, got %d", tick.Timestamp)
	}
}

func TestParseBinanceMessageSymbolFromStream(t *testing.T) {
	msg := []byte(`{"stream":"ethusdt@trade","data":{"p":"2000","q":"1","T":1700000000000}}`)

	tick, err := feed.ParseBinanceMessage(msg)
	if err != nil {
		t.Fatalf("Failed to parse message: %v", err)
	}
	if tick.Symbol != "ETHUSDT" {
		t.Errorf("Expected symbol ETHUSDT, got %s", tick.Symbol)
	}
}

func TestParseBinanceMessageMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"no data":       `{"stream":"solusdt@trade"}`,
		"bad price":     `{"stream":"solusdt@trade","data":{"p":"abc","q":"1","T":1}}`,
		"zero price":    `{"stream":"solusdt@trade","data":{"p":"0","q":"1","T":1}}`,
		"missing time":  `{"stream":"solusdt@trade","data":{"p":"1","q":"1"}}`,
		"negative size": `{"stream":"solusdt@trade","data":{"p":"1","q":"-1","T":1}}`,
	}

	for name, msg := range cases {
		if _, err := feed.ParseBinanceMessage([]byte(msg)); !errors.Is(err, feed.ErrMalformedPayload) {
			t.Errorf("%s: expected ErrMalformedPayload, got %v", name, err)
		}
	}
}

func TestParseKafkaTick(t *testing.T) {
	tick, err := feed.ParseKafkaTick([]byte(`{"symbol":"btcusdt","t":1700000000,"c":35000.5,"v":0.25}`))
	if err != nil {
		t.Fatalf("Failed to parse tick: %v", err)
	}
	if tick.Symbol != "BTCUSDT" {
		t.Errorf("Expected symbol BTCUSDT, got %s", tick.Symbol)
	}
	if tick.Timestamp != 1700000000000 {
		t.Errorf("Expected seconds converted to ms, got %d", tick.Timestamp)
	}

	tick, err = feed.ParseKafkaTick([]byte(`{"symbol":"BTCUSDT","t":1700000000500,"c":1,"v":1,"bid":0.9,"ask":1.1}`))
	if err != nil {
		t.Fatalf("Failed to parse tick: %v", err)
	}
	if tick.Timestamp != 1700000000500 {
		t.Errorf("Expected ms timestamp untouched, got %d", tick.Timestamp)
	}
	if !tick.HasQuote() {
		t.Error("Expected quote to be carried")
	}
}

func TestParseKafkaTickMalformed(t *testing.T) {
	for _, msg := range []string{`[]`, `{"symbol":"","t":1,"c":1,"v":1}`, `{"symbol":"X","t":1,"c":-1,"v":1}`} {
		if _, err := feed.ParseKafkaTick([]byte(msg)); !errors.Is(err, feed.ErrMalformedPayload) {
			t.Errorf("Expected ErrMalformedPayload for %s, got %v", msg, err)
		}
	}
}

func TestBinanceStreamURL(t *testing.T) {
	src, err := feed.NewBinanceSource(nopLogger(), feed.DefaultBinanceConfig("SOLUSDT", "BTCUSDT"))
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	expected := "wss://stream.binance.us:9443/stream?streams=solusdt@trade/btcusdt@trade"
	if src.StreamURL() != expected {
		t.Errorf("Expected %s, got %s", expected, src.StreamURL())
	}

	if _, err := feed.NewBinanceSource(nopLogger(), feed.DefaultBinanceConfig()); err == nil {
		t.Error("Expected error without symbols")
	}
}
