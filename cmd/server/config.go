package main

import (
	"fmt"
	"strings"
	"time"

	"negochat/directory"
	"negochat/domain"
)

// Config defines the server-side environment variables.
type Config struct {
	Host     string `env:"CHAT_HOST,default=0.0.0.0"`
	Port     int    `env:"CHAT_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	BadgerFilepath  string `env:"BADGER_PATH,default=/tmp/negochat/badger"`
	SearchIndexPath string `env:"SEARCH_INDEX_PATH,default=/tmp/negochat/index"`
	UploadDir       string `env:"UPLOAD_DIR,default=/tmp/negochat/uploads"`

	JWTSecret string        `env:"JWT_SECRET,required=true"`
	JWTIssuer string        `env:"JWT_ISSUER,default=negochat"`
	TokenTTL  time.Duration `env:"TOKEN_TTL,default=24h"`

	// MarketplaceURL points at the campaign/proposal resource service. When
	// empty, proposals come from DevProposals instead (local development).
	MarketplaceURL     string        `env:"MARKETPLACE_URL"`
	MarketplaceToken   string        `env:"MARKETPLACE_TOKEN"`
	MarketplaceTimeout time.Duration `env:"MARKETPLACE_TIMEOUT,default=5s"`

	// DevProposals seeds a static directory, entries formatted as
	// "campaign/proposal:brandID:influencerID" separated by semicolons.
	DevProposals string `env:"DEV_PROPOSALS"`

	CORSOrigins string `env:"CORS_ORIGINS,default=http://localhost:3000"`

	RestartInterval   time.Duration `env:"RESTART_INTERVAL,default=3s"`
	BufferSize        int           `env:"BUFFER_SIZE,default=256"`
	SinkTimeout       time.Duration `env:"SINK_TIMEOUT,default=2s"`
	TypingTTL         time.Duration `env:"TYPING_TTL,default=3s"`
	TelemetryInterval time.Duration `env:"TELEMETRY_INTERVAL,default=30s"`

	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES,default=10485760"`
}

func (c Config) corsOrigins() []string {
	return strings.Split(c.CORSOrigins, ",")
}

// proposalDirectory selects the marketplace-backed directory, or builds a
// static one from DEV_PROPOSALS for single-binary development.
func (c Config) proposalDirectory() (directory.ProposalDirectory, error) {
	if c.MarketplaceURL != "" {
		return directory.NewHTTPDirectory(c.MarketplaceURL, c.MarketplaceToken, c.MarketplaceTimeout), nil
	}

	static := directory.NewStaticDirectory()
	if c.DevProposals == "" {
		return static, nil
	}
	for _, entry := range strings.Split(c.DevProposals, ";") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed DEV_PROPOSALS entry %q", entry)
		}
		key, err := domain.ParseConversationKey(parts[0])
		if err != nil {
			return nil, fmt.Errorf("malformed DEV_PROPOSALS entry %q: %w", entry, err)
		}
		static.Upsert(directory.Proposal{
			Key:          key,
			BrandID:      parts[1],
			InfluencerID: parts[2],
			Status:       directory.StatusNegotiating,
		})
	}
	return static, nil
}
