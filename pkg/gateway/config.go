package gateway

import "time"

// Config holds the gateway settings shared by the server and executor sides.
type Config struct {
	URL           string        `env:"GATEWAY_URL"`
	AccessToken   string        `env:"GATEWAY_ACCESS_TOKEN"`
	MaxBodySize   int64         `env:"GATEWAY_MAX_BODY_SIZE" envDefault:"1048576"`
	StoreTimeout  time.Duration `env:"GATEWAY_STORE_TIMEOUT" envDefault:"10s"`
	ClientTimeout time.Duration `env:"GATEWAY_CLIENT_TIMEOUT" envDefault:"30s"`
}

// HandlerOptions translates the config into server options
func (c Config) HandlerOptions() []Option {
	return []Option{
		WithAccessToken(c.AccessToken),
		WithMaxBodySize(c.MaxBodySize),
		WithStoreTimeout(c.StoreTimeout),
	}
}

// ClientOptions translates the config into client options
func (c Config) ClientOptions() []ClientOption {
	return []ClientOption{
		WithClientAccessToken(c.AccessToken),
		WithClientTimeout(c.ClientTimeout),
	}
}
