// Package catalogsync pulls the provider catalog from an upstream feed and
// upserts it by external id.
package catalogsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"shopqueue-backend/config"
	"shopqueue-backend/internal/geo"
	"shopqueue-backend/internal/model"
	"shopqueue-backend/internal/parse"
)

// Upserter persists a batch of upstream providers.
type Upserter interface {
	UpsertProviders(ctx context.Context, providers []model.Provider) ([]model.Provider, error)
}

// Service runs the catalog sync loop.
type Service struct {
	cfg    *config.CatalogSyncConfig
	store  Upserter
	index  geo.Writer
	client *http.Client
}

// NewService creates a sync service. index may be nil when the geo backend
// reads the catalog table directly.
func NewService(cfg *config.CatalogSyncConfig, store Upserter, index geo.Writer) *Service {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.WithError(err).WithField("proxy", cfg.HTTPProxy).Warn("invalid proxy URL, catalog sync will not use a proxy")
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &Service{
		cfg:   cfg,
		store: store,
		index: index,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}
}

// Run syncs once immediately and then every configured interval.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Info("catalog sync is disabled")
		return
	}
	log.WithField("interval", s.cfg.Interval).Info("starting catalog sync")

	s.syncAndLog(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("catalog sync shutting down")
			return
		case <-timer.C:
			s.syncAndLog(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Service) syncAndLog(ctx context.Context) {
	n, err := s.SyncOnce(ctx)
	if err != nil {
		log.WithError(err).Error("catalog sync failed")
		return
	}
	log.WithField("providers", n).Info("catalog sync finished")
}

// SyncOnce fetches every page and upserts the usable items. It returns the
// number of providers stored.
func (s *Service) SyncOnce(ctx context.Context) (int, error) {
	var items []ApiItem
	total := 1
	pageSize := s.cfg.Request.PageSize
	var fetchErr error
	for page := 1; (page-1)*pageSize < total; page++ {
		resp, err := s.fetchPage(ctx, page)
		if err != nil {
			log.WithError(err).WithField("page", page).Warn("error fetching catalog page")
			fetchErr = err
			break
		}
		if resp.Data.Total == 0 || len(resp.Data.Items) == 0 {
			break
		}
		total = resp.Data.Total
		items = append(items, resp.Data.Items...)
	}

	// A failed fetch with nothing retrieved must not touch the catalog.
	if fetchErr != nil && len(items) == 0 {
		return 0, fetchErr
	}

	providers := make([]model.Provider, 0, len(items))
	for _, it := range items {
		p, ok := toProvider(it)
		if ok {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		return 0, nil
	}

	stored, err := s.store.UpsertProviders(ctx, providers)
	if err != nil {
		return 0, fmt.Errorf("upsert catalog: %w", err)
	}
	if s.index != nil {
		for _, p := range stored {
			s.index.Put(p)
		}
	}
	return len(stored), nil
}

// toProvider validates and normalizes an upstream item.
func toProvider(it ApiItem) (model.Provider, bool) {
	fields := log.Fields{"external_id": it.ID, "name": it.Name}
	if strings.TrimSpace(it.ID) == "" || strings.TrimSpace(it.Name) == "" {
		log.WithFields(fields).Warn("skipping catalog item without id or name")
		return model.Provider{}, false
	}
	if err := geo.ValidateCoordinate(it.Latitude, it.Longitude); err != nil {
		log.WithFields(fields).WithError(err).Warn("skipping catalog item")
		return model.Provider{}, false
	}

	id := strings.TrimSpace(it.ID)
	p := model.Provider{
		ExternalID: &id,
		Name:       strings.TrimSpace(it.Name),
		Address:    strings.TrimSpace(it.Address),
		Latitude:   it.Latitude,
		Longitude:  it.Longitude,
	}
	if it.Phone != "" {
		phone, err := parse.NormalizePhone(it.Phone)
		if err != nil {
			log.WithFields(fields).WithError(err).Debug("dropping unparseable phone")
		} else {
			p.Phone = phone
		}
	}
	return p, true
}

func (s *Service) fetchPage(ctx context.Context, page int) (*ApiResponse, error) {
	payload := make(map[string]any, len(s.cfg.Request.Payload)+2)
	for k, v := range s.cfg.Request.Payload {
		payload[k] = v
	}
	payload["page"] = page
	payload["pageSize"] = s.cfg.Request.PageSize

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Request.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Request.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp ApiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal api response: %w", err)
	}
	if apiResp.Code != 0 {
		return nil, fmt.Errorf("API returned non-zero application code: %d", apiResp.Code)
	}
	return &apiResp, nil
}
