// Package bootstrap assembles a dialer engine and its optional backing
// stores from configuration. Both binaries share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"telecom-dialer/internal/audit"
	"telecom-dialer/internal/clock"
	"telecom-dialer/internal/config"
	"telecom-dialer/internal/credential"
	"telecom-dialer/internal/device"
	"telecom-dialer/internal/dialer"
	"telecom-dialer/internal/notify"
	"telecom-dialer/internal/outcome"
	"telecom-dialer/internal/permission"
	"telecom-dialer/internal/telephony"
	"telecom-dialer/pkg/utils"
)

type Stack struct {
	Engine   *dialer.Engine
	Prompter *permission.ReportedPrompter
	Gate     *permission.Gate
	Audit    *audit.Service
	Outcomes *outcome.Service

	closers []func() error
}

// Close releases everything Build opened, in reverse order.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Stack) onClose(fn func() error) { s.closers = append(s.closers, fn) }

// Build opens the configured stores and brokers and wires the engine.
// Without DB_HOST records stay in memory; without REDIS_HOST there is no
// device lease and no Redis fan-out; without MQTT_BROKER nothing is
// published to MQTT. On error everything already opened is closed.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *Stack, err error) {
	st := &Stack{}
	defer func() {
		if err != nil {
			_ = st.Close()
		}
	}()

	var (
		outcomeRepo outcome.Repository = outcome.NewMemoryRepo()
		auditRepo   audit.Repository   = audit.NewMemoryRepo()
	)
	if cfg.PostgresEnabled() {
		db, err := utils.OpenPostgres(ctx, utils.PostgresDriver, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		st.onClose(db.Close)

		pgOutcomes := outcome.NewPostgresRepo(db)
		if err := pgOutcomes.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("outcome schema: %w", err)
		}
		pgAudit := audit.NewPostgresRepo(db)
		if err := pgAudit.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("audit schema: %w", err)
		}
		outcomeRepo, auditRepo = pgOutcomes, pgAudit
	}

	notifiers := notify.Multi{notify.LogNotifier{Log: log}}

	var lease device.Lease
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		st.onClose(rdb.Close)
		lease = device.NewRedisLease(rdb, leaseIdentity(cfg), cfg.Dialer.DeviceLeaseTTL)
		notifiers = append(notifiers, notify.NewRedisNotifier(rdb, cfg.Notify.RedisChannel))
	}

	if cfg.MQTT.Broker != "" {
		pub, err := notify.NewPahoPublisher(notify.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      1,
		})
		if err != nil {
			return nil, fmt.Errorf("mqtt: %w", err)
		}
		mq := notify.NewMQTTNotifier(pub, cfg.MQTT.TopicPrefix)
		st.onClose(mq.Close)
		notifiers = append(notifiers, mq)
	}

	async := notify.NewAsync(notifiers, 256, log)
	st.onClose(func() error {
		async.Close()
		return nil
	})

	var issuer credential.Issuer = credential.StaticIssuer{Identity: cfg.AMI.Username, Secret: cfg.AMI.Secret}
	if cfg.Credential.URL != "" {
		issuer = credential.NewHTTPIssuer(cfg.Credential.URL, cfg.Credential.Timeout)
	}

	gateways := telephony.NewAMIFactory(telephony.AMIConfig{
		Addr:            cfg.AMIAddr(),
		Username:        cfg.AMI.Username,
		ChannelTemplate: cfg.AMI.ChannelTemplate,
		Context:         cfg.AMI.Context,
		Exten:           cfg.AMI.Exten,
		CallerID:        cfg.AMI.CallerID,
	}, log)

	st.Prompter = permission.NewReportedPrompter()
	st.Gate = permission.NewGate(st.Prompter)
	st.Outcomes = outcome.NewService(outcomeRepo)
	st.Audit = audit.NewService(auditRepo)

	st.Engine = dialer.New(dialer.Config{
		RegistrationTimeout: cfg.Dialer.RegistrationTimeout,
		SettleDelay:         cfg.Dialer.SettleDelay,
		RetryBackoff:        cfg.Dialer.DialRetryBackoff,
		DefaultDisposition:  outcome.Disposition(cfg.Dialer.DefaultDisposition),
		DefaultCountryCode:  cfg.Dialer.CountryCode,
		CallerID:            cfg.AMI.CallerID,
	}, dialer.Deps{
		Clock:    clock.Real(),
		Gate:     st.Gate,
		Issuer:   issuer,
		Gateways: gateways,
		Lease:    lease,
		Sink:     st.Outcomes,
		Notifier: async,
		Log:      log,
	})
	return st, nil
}

func leaseIdentity(cfg config.Config) string {
	if cfg.AMI.Username != "" {
		return cfg.AMI.Username + "@" + cfg.AMIAddr()
	}
	return cfg.AMIAddr()
}
