package classify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"because/internal/domain"
)

// Credentials is a resolved user-supplied provider and key.
type Credentials struct {
	Provider string
	Key      string
}

// CredentialSource resolves the user's credentials, if any. It is consulted
// on every call so credential changes apply immediately.
type CredentialSource interface {
	Credentials() (Credentials, bool)
}

// StaticCredentials is a fixed CredentialSource.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials() (Credentials, bool) {
	return Credentials(s), s.Key != ""
}

// ErrNoRoute means neither a user key nor a relay endpoint is configured.
var ErrNoRoute = errors.New("no classification provider or relay configured")

// Error is a classification failure. It never escapes Classify.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("classify %s: %v", e.Stage, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response from a provider or the relay.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Code) }

const (
	DefaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// Options configures a Gateway. Zero values pick defaults.
type Options struct {
	Providers  ProviderSet
	RelayURL   string
	Timeout    time.Duration
	HTTPClient *http.Client
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
	// BreakerFailures is the number of consecutive failures that opens it.
	BreakerFailures uint32
}

// Gateway resolves topic labels for an item, either directly against the
// user's provider or through the shared relay.
type Gateway struct {
	creds     CredentialSource
	providers ProviderSet
	relayURL  string
	timeout   time.Duration
	client    *http.Client
	log       logrus.FieldLogger

	breakerSettings gobreaker.Settings
	mu              sync.Mutex
	breakers        map[string]*gobreaker.CircuitBreaker // keyed by route
}

// NewGateway creates a Gateway. creds may be nil when only the relay is used.
func NewGateway(creds CredentialSource, opts Options, logger logrus.FieldLogger) *Gateway {
	if opts.Providers == nil {
		opts.Providers = DefaultProviders()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	log := logger.WithField("component", "classifier")

	failures := opts.BreakerFailures
	settings := gobreaker.Settings{
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"route": name, "from": from.String(), "to": to.String()}).Warn("Classifier circuit breaker changed state")
		},
	}

	return &Gateway{
		creds:           creds,
		providers:       opts.Providers,
		relayURL:        opts.RelayURL,
		timeout:         opts.Timeout,
		client:          opts.HTTPClient,
		log:             log,
		breakerSettings: settings,
		breakers:        make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Classify returns 1-3 labels for the pair. It never fails: every error
// degrades to {Other}.
func (g *Gateway) Classify(ctx context.Context, content, reason string) []domain.Topic {
	res, err := g.Resolve(ctx, content, reason)
	if err != nil {
		g.log.WithError(err).Warn("Classification failed, using fallback topic")
	}
	return res.Topics()
}

// Resolve is Classify with the failure visible. The returned Result is
// always usable, even alongside an error.
func (g *Gateway) Resolve(ctx context.Context, content, reason string) (Result, error) {
	c := Sanitize(content, MaxContentLen)
	r := Sanitize(reason, MaxReasonLen)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var (
		req   *http.Request
		parse func([]byte) (Result, error)
		err   error
		route string
	)
	if creds, ok := g.credentials(); ok {
		p := g.providers.Lookup(creds.Provider)
		route = p.Name()
		req, err = p.BuildRequest(ctx, BuildPrompt(c, r), creds.Key)
		parse = func(body []byte) (Result, error) {
			text, err := p.ExtractText(body)
			if err != nil {
				return FallbackResult(), err
			}
			return ParseResponse(text), nil
		}
	} else if g.relayURL != "" {
		route = "relay"
		req, err = buildRelayRequest(ctx, g.relayURL, c, r)
		parse = parseRelayResponse
	} else {
		return FallbackResult(), &Error{Stage: "route", Err: ErrNoRoute}
	}
	if err != nil {
		return FallbackResult(), &Error{Stage: "request", Err: err}
	}

	body, err := g.do(route, req)
	if err != nil {
		return FallbackResult(), &Error{Stage: route, Err: err}
	}
	res, err := parse(body)
	if err != nil {
		return FallbackResult(), &Error{Stage: "parse", Err: err}
	}
	g.log.WithFields(logrus.Fields{"route": route, "topics": res.Topics(), "fallback": res.Fallback}).Debug("Classified")
	return res, nil
}

func (g *Gateway) credentials() (Credentials, bool) {
	if g.creds == nil {
		return Credentials{}, false
	}
	creds, ok := g.creds.Credentials()
	if !ok || creds.Key == "" {
		return Credentials{}, false
	}
	return creds, true
}

func (g *Gateway) breaker(route string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[route]
	if !ok {
		st := g.breakerSettings
		st.Name = route
		cb = gobreaker.NewCircuitBreaker(st)
		g.breakers[route] = cb
	}
	return cb
}

func (g *Gateway) do(route string, req *http.Request) ([]byte, error) {
	out, err := g.breaker(route).Execute(func() (interface{}, error) {
		resp, err := g.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
			return nil, &StatusError{Code: resp.StatusCode}
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	})
	if err != nil {
		return nil, err
	}
	body, _ := out.([]byte)
	return body, nil
}
