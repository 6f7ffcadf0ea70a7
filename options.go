package isp

// Config holds the engine settings.
type Config struct {
	// HandshakeRetries is how many extra INIT bytes are sent when the reply is
	// neither ACK nor NACK. Zero fails on the first unexpected byte.
	HandshakeRetries int

	// ChunkSize is the payload per Write/Read Memory transaction.
	ChunkSize int
}

func defaultConfig() Config {
	return Config{
		HandshakeRetries: 0,
		ChunkSize:        WriteBlockSize,
	}
}

// Option configures an ISP.
type Option func(*Config)

// WithHandshakeRetries tolerates line noise during the INIT exchange.
func WithHandshakeRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.HandshakeRetries = n
		}
	}
}

// WithChunkSize sets the transfer size used by WriteImage and ReadImage. It must be
// a multiple of 4 no larger than 256; other values are ignored.
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= WriteBlockSize && size%4 == 0 {
			c.ChunkSize = size
		}
	}
}
