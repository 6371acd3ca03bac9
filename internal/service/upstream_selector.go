package service

import (
	"fmt"
	"strings"

	"cariusb-relay/internal/domain"
)

const minSecretLength = 8

// UpstreamSelector resuelve el webhook y el secreto para un modo. Es una
// funcion pura sobre la configuración leida al construirlo.
type UpstreamSelector struct {
	modeURLs    map[domain.DomainMode]string
	fallbackURL string
	secret      string
}

// NewUpstreamSelector recorta el secreto; uno de menos de 8 caracteres se
// trata como ausente.
func NewUpstreamSelector(modeURLs map[domain.DomainMode]string, fallbackURL, secret string) *UpstreamSelector {
	urls := make(map[domain.DomainMode]string, len(modeURLs))
	for mode, u := range modeURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls[mode] = u
		}
	}
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLength {
		secret = ""
	}
	return &UpstreamSelector{
		modeURLs:    urls,
		fallbackURL: strings.TrimSpace(fallbackURL),
		secret:      secret,
	}
}

// Select devuelve el target del modo, cayendo a la URL global. ok es false si
// no hay URL o no hay secreto valido.
func (s *UpstreamSelector) Select(mode domain.DomainMode) (domain.UpstreamTarget, bool) {
	mode = domain.NormalizeDomainMode(string(mode))
	url := s.modeURLs[mode]
	if url == "" {
		url = s.fallbackURL
	}
	if url == "" || s.secret == "" {
		return domain.UpstreamTarget{Mode: mode}, false
	}
	return domain.UpstreamTarget{Mode: mode, URL: url, AuthSecret: s.secret}, true
}

// Resolve es Select con el error canonico ENV_MISSING.
func (s *UpstreamSelector) Resolve(mode domain.DomainMode) (domain.UpstreamTarget, error) {
	target, ok := s.Select(mode)
	if !ok {
		return target, newError(domain.CodeEnvMissing, fmt.Sprintf("Webhook URL or secret for mode %q is missing", target.Mode), ErrNoUpstream)
	}
	return target, nil
}
