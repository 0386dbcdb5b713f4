// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/internal/store"
)

var _ = Describe("PostgresStore", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		dsn       string
		pool      *pgxpool.Pool
		s         *store.PostgresStore
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("eventdock_test"),
			postgres.WithUsername("eventdock"),
			postgres.WithPassword("eventdock"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		m, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		st, err := m.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Pending).To(BeEmpty())
		Expect(st.Dirty).To(BeFalse())
		Expect(m.Close()).To(Succeed())

		pool, err = store.Connect(ctx, dsn, store.ConnectOptions{})
		Expect(err).NotTo(HaveOccurred())
		s = store.NewPostgresStore(pool)

		Expect(s.UpsertCatalog(ctx, store.CatalogEntry{
			Manifest: plugin.Manifest{
				ID:              "stripe-payment-plugin",
				Name:            "Stripe Payments",
				Version:         "2.1.0",
				Category:        plugin.CategoryPayment,
				ExtensionPoints: []string{plugin.PointPaymentMethods},
			},
			Bundle: []byte("return {}"),
		})).To(Succeed())
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			Expect(container.Terminate(ctx)).To(Succeed())
		}
	})

	It("lists the catalogue and its bundles", func() {
		catalog, err := s.Catalog(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(catalog).To(HaveLen(1))
		Expect(catalog[0].Version).To(Equal("2.1.0"))

		bundle, err := s.Bundle(ctx, "stripe-payment-plugin")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(bundle)).To(Equal("return {}"))
	})

	It("replaces a catalogue entry on upsert", func() {
		Expect(s.UpsertCatalog(ctx, store.CatalogEntry{
			Manifest: plugin.Manifest{
				ID:              "stripe-payment-plugin",
				Name:            "Stripe Payments",
				Version:         "2.2.0",
				Category:        plugin.CategoryPayment,
				ExtensionPoints: []string{plugin.PointPaymentMethods},
			},
			Bundle: []byte("return {}"),
		})).To(Succeed())

		catalog, err := s.Catalog(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(catalog).To(HaveLen(1))
		Expect(catalog[0].Version).To(Equal("2.2.0"))
	})

	It("runs an installation through its lifecycle", func() {
		inst, err := s.Install(ctx, "org_1", "stripe-payment-plugin", "usr_1")
		Expect(err).NotTo(HaveOccurred())
		Expect(inst.Enabled).To(BeTrue())
		Expect(inst.Configuration).To(BeEmpty())

		_, err = s.Install(ctx, "org_1", "stripe-payment-plugin", "usr_1")
		Expect(err).To(MatchError(store.ErrAlreadyInstalled))

		_, err = s.Install(ctx, "org_1", "not-a-plugin", "usr_1")
		Expect(err).To(MatchError(store.ErrUnknownPlugin))

		cfg := map[string]any{"apiKey": "sk_test_123", "mode": "test"}
		updated, err := s.Configure(ctx, "org_1", inst.ID, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.Configuration).To(Equal(cfg))

		disabled, err := s.SetEnabled(ctx, "org_1", inst.ID, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(disabled.Enabled).To(BeFalse())
		Expect(disabled.UpdatedAt).To(BeTemporally(">=", inst.UpdatedAt))

		list, err := s.ListInstalled(ctx, "org_1")
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(1))
		Expect(list[0].Configuration).To(Equal(cfg))

		Expect(s.Uninstall(ctx, "org_2", inst.ID)).To(MatchError(store.ErrNotFound))
		Expect(s.Uninstall(ctx, "org_1", inst.ID)).To(Succeed())
		Expect(s.Uninstall(ctx, "org_1", inst.ID)).To(MatchError(store.ErrNotFound))

		list, err = s.ListInstalled(ctx, "org_1")
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(BeEmpty())
	})

	It("rolls the schema back and forward", func() {
		m, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(m.Close)

		Expect(m.Steps(-1)).To(Succeed())
		st, err := m.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Pending).To(HaveLen(1))

		Expect(m.Up()).To(Succeed())
		st, err = m.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Pending).To(BeEmpty())
	})
})
