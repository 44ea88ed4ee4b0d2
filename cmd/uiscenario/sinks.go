package main

import (
	"context"

	"github.com/kuitang/uiscenario/internal/artifacts"
	"github.com/kuitang/uiscenario/internal/config"
	"github.com/kuitang/uiscenario/internal/history"
	"github.com/kuitang/uiscenario/internal/notify"
	"github.com/kuitang/uiscenario/internal/obs"
	"github.com/kuitang/uiscenario/internal/report"
	"github.com/kuitang/uiscenario/internal/runner"
)

// sinks are the optional integrations results flow into. A nil field is a
// disabled integration. Sink failures are logged and never change the exit
// status.
type sinks struct {
	history   *history.Store
	artifacts *artifacts.Store
	client    *artifacts.Client
	notifier  notify.Notifier
}

func openSinks(ctx context.Context, cfg *config.Config) (*sinks, error) {
	sk := &sinks{}
	if cfg.HistoryEnabled() {
		store, err := history.OpenHex(cfg.HistoryPath, cfg.HistoryKey)
		if err != nil {
			return nil, err
		}
		sk.history = store
	}
	if cfg.ArtifactsEnabled() {
		client, err := artifacts.New(ctx, artifacts.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.AWSBucketName,
			PublicURL:       cfg.AWSPublicURL,
			UsePathStyle:    cfg.AWSEndpointS3 != "",
		})
		if err != nil {
			sk.Close()
			return nil, err
		}
		sk.client = client
		sk.artifacts = artifacts.NewStore(client)
	}
	if cfg.NotifyEnabled() {
		sk.notifier = notify.NewResend(cfg.ResendAPIKey, cfg.NotifyFrom)
	}
	return sk, nil
}

// recordResult uploads the run's artifacts and stores it in history. It
// returns the artifact link, or "" when nothing was uploaded.
func (s *sinks) recordResult(ctx context.Context, suite string, res runner.Result) string {
	ctx = obs.WithCorrelation(ctx, obs.Correlation{RunID: res.RunID, ScenarioID: res.ScenarioID})
	log := obs.From(ctx)

	var link string
	if s.artifacts != nil {
		if _, err := s.artifacts.PutResult(ctx, res); err != nil {
			log.Warn("artifact upload failed", "error", err)
		} else {
			link = s.client.PublicURL(artifacts.RunPrefix(res))
		}
	}
	if s.history != nil {
		if err := s.history.Record(ctx, suite, res, link); err != nil {
			log.Warn("history record failed", "error", err)
		}
	}
	return link
}

// warnFlaky logs scenarios whose recent history mixes matched and
// mismatched runs.
func (s *sinks) warnFlaky(ctx context.Context, results []runner.Result) {
	if s.history == nil {
		return
	}
	for _, res := range results {
		st, err := s.history.Stability(ctx, res.ScenarioID, flakyWindow)
		if err != nil {
			obs.From(ctx).Warn("history stability failed", "scenario_id", res.ScenarioID, "error", err)
			continue
		}
		if st.Flaky {
			obs.From(ctx).Warn("scenario is flaky", "scenario_id", st.ScenarioID, "matched", st.Matched, "runs", st.Runs)
		}
	}
}

// publishReport uploads the rendered report and returns its URL.
func (s *sinks) publishReport(ctx context.Context, suite string, rep *report.Report, ext string, body []byte) string {
	if s.artifacts == nil {
		return ""
	}
	// The shareable copy is always HTML; body is whatever --format asked for.
	if ext != "html" {
		html, err := rep.HTML()
		if err != nil {
			obs.From(ctx).Warn("report render failed", "error", err)
			return ""
		}
		body, ext = html, "html"
	}
	obj, err := s.artifacts.PutReport(ctx, suite, ext, body)
	if err != nil {
		obs.From(ctx).Warn("report upload failed", "error", err)
		return ""
	}
	obs.From(ctx).Info("report uploaded", "url", obj.URL)
	return obj.URL
}

func (s *sinks) notify(ctx context.Context, cfg *config.Config, rep *report.Report, reportURL string) {
	if s.notifier == nil {
		return
	}
	if err := notify.Suite(ctx, s.notifier, rep, cfg.NotifyTo, reportURL); err != nil {
		obs.From(ctx).Warn("failure notification failed", "error", err)
	}
}

func (s *sinks) Close() error {
	if s.history == nil {
		return nil
	}
	err := s.history.Close()
	s.history = nil
	return err
}
