package provider

import (
	"fmt"
	"strings"
)

// New resolves a provider name to a constructed provider.
func New(cfg Config, deps Deps) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case NameSMS, "":
		return NewSMSProvider(cfg, deps)
	case NameMock:
		return NewMockProvider(cfg, deps)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}
