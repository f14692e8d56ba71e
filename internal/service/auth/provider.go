package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"BarHarvest/internal/domain/models"
	"BarHarvest/internal/domain/repository"
	"BarHarvest/internal/service/ratelimit"
	"BarHarvest/pkg/cache"
	pkghttp "BarHarvest/pkg/http"
	"BarHarvest/pkg/logger"
)

var ErrNoAuth = errors.New("auth: no usable sign-in data")

type Config struct {
	Username    string
	Password    string
	SignInURL   string
	Referer     string
	MaxAge      time.Duration
	SignInEvery time.Duration
}

// Provider signs in to obtain an auth token, reusing a cached response while it is
// younger than MaxAge and falling back to it when a fresh sign-in fails.
type Provider struct {
	cfg     Config
	client  *pkghttp.Client
	store   Store
	limiter *ratelimit.Limiter
	log     *logger.Logger
	now     func() time.Time
}

var _ repository.AuthProvider = (*Provider)(nil)

func NewProvider(cfg Config, client *pkghttp.Client, store Store, limiter *ratelimit.Limiter, log *logger.Logger) *Provider {
	if cfg.SignInURL == "" {
		cfg.SignInURL = "https://www.tradingview.com/accounts/signin/"
	}
	if cfg.Referer == "" {
		cfg.Referer = "https://www.tradingview.com"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 72 * time.Hour
	}
	if cfg.SignInEvery <= 0 {
		cfg.SignInEvery = 10 * time.Minute
	}
	if client == nil {
		client = pkghttp.NewClient()
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Provider{
		cfg:     cfg,
		client:  client,
		store:   store,
		limiter: limiter,
		log:     log.With(logger.String("component", "auth")),
		now:     time.Now,
	}
}

// GetAuth returns nil, nil when no username or password is configured.
func (p *Provider) GetAuth(ctx context.Context) (*models.Auth, error) {
	if p.cfg.Username == "" || p.cfg.Password == "" {
		return nil, nil
	}

	cached, err := p.store.Load(ctx, p.cfg.Username)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		p.log.Warn("auth cache unreadable", logger.Error(err))
	}

	var fresh *Record
	if p.stale(cached) {
		fresh = p.refresh(ctx)
	}

	if a := toAuth(fresh); a != nil {
		p.log.Info("using new auth data", logger.Bool("is_pro", a.IsPro))
		return a, nil
	}
	if a := toAuth(cached); a != nil {
		p.log.Info("using cached auth data", logger.Bool("is_pro", a.IsPro))
		return a, nil
	}
	return nil, ErrNoAuth
}

func (p *Provider) stale(r *Record) bool {
	if r == nil || r.CreatedAt == 0 {
		return true
	}
	return p.now().Sub(time.Unix(r.CreatedAt, 0)) > p.cfg.MaxAge
}

func (p *Provider) refresh(ctx context.Context) *Record {
	if !p.limiter.Allow("signin:"+p.cfg.Username, 1, 1/p.cfg.SignInEvery.Seconds()) {
		p.log.Warn("sign-in throttled", logger.String("username", p.cfg.Username))
		return nil
	}

	fresh, err := p.signIn(ctx)
	if err != nil {
		p.log.Error("sign-in failed", logger.Error(err))
		return nil
	}
	if fresh.Cacheable() {
		if err := p.store.Save(ctx, p.cfg.Username, fresh); err != nil {
			p.log.Warn("auth cache write failed", logger.Error(err))
		}
	} else if fresh.Error != nil {
		p.log.Error("sign-in rejected", logger.String("error", *fresh.Error))
	}
	return fresh
}

func (p *Provider) signIn(ctx context.Context) (*Record, error) {
	var r Record
	form := url.Values{
		"username": {p.cfg.Username},
		"password": {p.cfg.Password},
		"remember": {"on"},
	}
	header := http.Header{"Referer": {p.cfg.Referer}}
	err := p.client.PostForm(ctx, p.cfg.SignInURL, form, header, &r)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	r.CreatedAt = p.now().Unix()
	return &r, nil
}

func toAuth(r *Record) *models.Auth {
	if r == nil || r.User == nil || r.User.AuthToken == "" {
		return nil
	}
	return &models.Auth{Token: r.User.AuthToken, IsPro: r.User.IsPro, ProPlan: r.User.ProPlan}
}
