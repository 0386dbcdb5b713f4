// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

//go:build integration

package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/eventdock/eventdock/internal/api"
	"github.com/eventdock/eventdock/internal/apiserver"
	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/internal/plugin/capability"
	"github.com/eventdock/eventdock/internal/plugin/hostfunc"
	pluginlua "github.com/eventdock/eventdock/internal/plugin/lua"
	"github.com/eventdock/eventdock/internal/store"
)

const (
	token    = "tok_integration"
	orgID    = "org_acme"
	stripeID = "stripe-payment-plugin"
)

// bundleCounter counts bundle fetches that pass through it.
type bundleCounter struct {
	fetches atomic.Int32
}

func (c *bundleCounter) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasPrefix(req.URL.Path, "/bundles/") {
		c.fetches.Add(1)
	}
	return http.DefaultTransport.RoundTrip(req)
}

type host struct {
	controller *plugin.Controller
	renderer   *plugin.Renderer
	registry   *plugin.Registry
	toasts     chan plugin.Toast
}

func newHost(baseURL string, counter *bundleCounter) *host {
	client, err := api.NewClient(baseURL, token, orgID)
	Expect(err).NotTo(HaveOccurred())

	toasts := make(chan plugin.Toast, 16)
	notifier := plugin.NotifierFunc(func(_ context.Context, t plugin.Toast) {
		select {
		case toasts <- t:
		default:
		}
	})
	enforcer := capability.NewEnforcer()
	executor := pluginlua.NewExecutor(pluginlua.WithHostFunctions(hostfunc.New()))
	loader := plugin.NewLoader(executor, plugin.WithHTTPClient(&http.Client{Transport: counter}))
	registry := plugin.NewRegistry()
	controller := plugin.NewController(client, loader, registry, enforcer, plugin.WithNotifier(notifier))
	renderer := plugin.NewRenderer(registry,
		&plugin.SDKFactory{API: client, Enforcer: enforcer, Notifier: notifier},
		plugin.WithSlotTimeout(5*time.Second),
		plugin.WithPluginSource(controller))

	return &host{controller: controller, renderer: renderer, registry: registry, toasts: toasts}
}

func (h *host) paymentMethods(ctx context.Context) []plugin.Slot {
	slots, err := h.renderer.RenderAll(ctx, plugin.PointPaymentMethods, plugin.PaymentMethodsContext{
		OrganizationID: orgID,
		OrderID:        "ord_1",
		Amount:         1250,
		Currency:       "USD",
	})
	Expect(err).NotTo(HaveOccurred())
	return slots
}

func findText(n plugin.Node, want string) bool {
	if strings.Contains(n.Text, want) {
		return true
	}
	for _, c := range n.Children {
		if findText(c, want) {
			return true
		}
	}
	return false
}

var _ = Describe("Plugin lifecycle against the platform API", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool
		server    *httptest.Server
		counter   *bundleCounter
		h         *host
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

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		m, err := store.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		Expect(m.Close()).To(Succeed())

		pool, err = store.Connect(ctx, dsn, store.ConnectOptions{})
		Expect(err).NotTo(HaveOccurred())
		st := store.NewPostgresStore(pool)

		n, err := apiserver.Seed(ctx, st, filepath.Join("..", "..", "plugins"))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">=", 1))

		server = httptest.NewServer(apiserver.New(st, token).Handler())
		counter = &bundleCounter{}
		h = newHost(server.URL, counter)
		Expect(h.controller.Sync(ctx)).To(Succeed())
	})

	AfterAll(func() {
		if server != nil {
			server.Close()
		}
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("lists the seeded catalogue", func() {
		ids := make([]string, 0)
		for _, m := range h.controller.Catalog() {
			ids = append(ids, m.ID)
		}
		Expect(ids).To(ContainElement(stripeID))
		Expect(h.paymentMethods(ctx)).To(BeEmpty())
	})

	It("renders one entry after installing", func() {
		_, err := h.controller.Install(ctx, stripeID)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.controller.Status(stripeID).State).To(Equal(plugin.StateEnabled))

		slots := h.paymentMethods(ctx)
		Expect(slots).To(HaveLen(1))
		Expect(slots[0].PluginID).To(Equal(stripeID))
		Expect(slots[0].Status).To(Equal(plugin.SlotReady))
		Expect(findText(slots[0].Node, "Stripe is not configured yet.")).To(BeTrue())
		Expect(counter.fetches.Load()).To(Equal(int32(1)))
	})

	It("uses the saved configuration", func() {
		_, err := h.controller.Configure(ctx, stripeID, map[string]any{"apiKey": "sk_test_123"})
		Expect(err).NotTo(HaveOccurred())
		Eventually(h.toasts).Should(Receive(HaveField("Message", "Configuration saved")))

		slots := h.paymentMethods(ctx)
		Expect(slots).To(HaveLen(1))
		Expect(findText(slots[0].Node, "12.50")).To(BeTrue())
	})

	It("rejects configuration that fails the schema", func() {
		_, err := h.controller.Configure(ctx, stripeID, map[string]any{"apiKey": "pk_wrong"})
		Expect(err).To(HaveOccurred())
		Expect(h.controller.Configuration(stripeID)).To(HaveKeyWithValue("apiKey", "sk_test_123"))
	})

	It("renders nothing while disabled", func() {
		Expect(h.controller.Disable(ctx, stripeID)).To(Succeed())
		Expect(h.paymentMethods(ctx)).To(BeEmpty())
	})

	It("re-enables without fetching the bundle again", func() {
		Expect(h.controller.Enable(ctx, stripeID)).To(Succeed())

		slots := h.paymentMethods(ctx)
		Expect(slots).To(HaveLen(1))
		Expect(slots[0].PluginID).To(Equal(stripeID))
		Expect(counter.fetches.Load()).To(Equal(int32(1)))
	})

	It("survives a fresh host syncing the same organization", func() {
		fresh := newHost(server.URL, &bundleCounter{})
		Expect(fresh.controller.Sync(ctx)).To(Succeed())
		Expect(fresh.controller.Status(stripeID).State).To(Equal(plugin.StateEnabled))
		Expect(fresh.paymentMethods(ctx)).To(HaveLen(1))
	})

	It("removes the plugin on uninstall", func() {
		Expect(h.controller.Uninstall(ctx, stripeID)).To(Succeed())
		Expect(h.controller.Status(stripeID).State).To(Equal(plugin.StateNotInstalled))
		Expect(h.paymentMethods(ctx)).To(BeEmpty())
		Expect(h.registry.Has(stripeID)).To(BeFalse())
	})
})
