// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

//go:build integration

package plugin_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/eventdock/eventdock/internal/plugin"
	"github.com/eventdock/eventdock/internal/plugin/capability"
	"github.com/eventdock/eventdock/internal/plugin/hostfunc"
	pluginlua "github.com/eventdock/eventdock/internal/plugin/lua"
)

const stripeID = "stripe-payment-plugin"

func stripePackage() (*plugin.Manifest, []byte) {
	dir := filepath.Join("..", "..", "plugins", stripeID)
	data, err := os.ReadFile(filepath.Join(dir, "plugin.yaml"))
	Expect(err).NotTo(HaveOccurred())
	m, err := plugin.ParseManifest(data)
	Expect(err).NotTo(HaveOccurred())
	bundle, err := os.ReadFile(filepath.Join(dir, "bundle.lua"))
	Expect(err).NotTo(HaveOccurred())
	return m, bundle
}

func nodeTexts(n plugin.Node) []string {
	out := []string{}
	if n.Text != "" {
		out = append(out, n.Text)
	}
	for _, c := range n.Children {
		out = append(out, nodeTexts(c)...)
	}
	return out
}

var _ = Describe("Stripe plugin on the Lua runtime", Ordered, func() {
	var (
		ctx        context.Context
		server     *httptest.Server
		fetches    atomic.Int32
		backend    *fakeBackend
		registry   *plugin.Registry
		controller *plugin.Controller
		renderer   *plugin.Renderer
		toasts     *toastSink
	)

	render := func(ec plugin.ExtensionContext) []plugin.Slot {
		slots, err := renderer.RenderAll(ctx, ec.Point(), ec)
		Expect(err).NotTo(HaveOccurred())
		return slots
	}

	BeforeAll(func() {
		ctx = context.Background()
		manifest, bundle := stripePackage()

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fetches.Add(1)
			w.Header().Set("Content-Type", "text/x-lua; charset=utf-8")
			_, _ = w.Write(bundle)
		}))
		manifest.BundleURL = server.URL + "/bundles/" + stripeID + ".lua"

		backend = newFakeBackend(manifest)
		toasts = &toastSink{}
		enforcer := capability.NewEnforcer()
		executor := pluginlua.NewExecutor(pluginlua.WithHostFunctions(hostfunc.New()))
		loader := plugin.NewLoader(executor)
		registry = plugin.NewRegistry()
		controller = plugin.NewController(backend, loader, registry, enforcer, plugin.WithNotifier(toasts))
		renderer = plugin.NewRenderer(registry,
			&plugin.SDKFactory{Enforcer: enforcer, Notifier: toasts},
			plugin.WithSlotTimeout(5*time.Second),
			plugin.WithPluginSource(controller))

		Expect(controller.Sync(ctx)).To(Succeed())
	})

	AfterAll(func() {
		if server != nil {
			server.Close()
		}
	})

	It("registers every declared extension point on install", func() {
		_, err := controller.Install(ctx, stripeID)
		Expect(err).NotTo(HaveOccurred())

		st := controller.Status(stripeID)
		Expect(st.State).To(Equal(plugin.StateEnabled))
		Expect(st.LoadedVersion).To(Equal("1.0.0"))
		Expect(registry.Points()).To(ConsistOf(
			plugin.PointAdminSettings, plugin.PointPaymentMethods, plugin.PointCheckoutConfirmation))
		Expect(fetches.Load()).To(Equal(int32(1)))
	})

	It("asks for a key before accepting payments", func() {
		slots := render(plugin.PaymentMethodsContext{OrderID: "ord_1", Amount: 1250, Currency: "USD"})
		Expect(slots).To(HaveLen(1))
		Expect(slots[0].Status).To(Equal(plugin.SlotReady))
		Expect(slots[0].Node.Type).To(Equal("alert"))
		Expect(nodeTexts(slots[0].Node)).To(ContainElement("Stripe is not configured yet."))
	})

	It("warns on the settings page until configured", func() {
		slots := render(plugin.AdminSettingsContext{OrganizationID: "org_1"})
		Expect(slots).To(HaveLen(1))
		Expect(slots[0].Node.Type).To(Equal("card"))
		Expect(nodeTexts(slots[0].Node)).To(ContainElement(ContainSubstring("secret key")))
	})

	It("renders the card form with the formatted amount once configured", func() {
		_, err := controller.Configure(ctx, stripeID, map[string]any{"apiKey": "sk_test_42", "mode": "live"})
		Expect(err).NotTo(HaveOccurred())
		Expect(toasts.levels(plugin.ToastSuccess)).NotTo(BeEmpty())

		slots := render(plugin.PaymentMethodsContext{OrderID: "ord_1", Amount: 1250, Currency: "USD"})
		Expect(slots).To(HaveLen(1))
		texts := strings.Join(nodeTexts(slots[0].Node), "\n")
		Expect(texts).To(ContainSubstring("Live mode"))
		Expect(slots[0].Node.String()).To(ContainSubstring("12.50"))
		Expect(slots[0].Node.String()).To(ContainSubstring("stripe:pay"))
	})

	It("falls back to an error alert for an unknown currency", func() {
		slots := render(plugin.PaymentMethodsContext{OrderID: "ord_1", Amount: 100, Currency: "XXQ"})
		Expect(slots).To(HaveLen(1))
		Expect(slots[0].Status).To(Equal(plugin.SlotReady))
		Expect(slots[0].Node.Type).To(Equal("alert"))
	})

	It("confirms the payment with the receipt address", func() {
		slots := render(plugin.CheckoutConfirmationContext{
			OrderID: "ord_1", Amount: 4000, Currency: "EUR", CustomerEmail: "ada@example.com",
		})
		Expect(slots).To(HaveLen(1))
		texts := strings.Join(nodeTexts(slots[0].Node), "\n")
		Expect(texts).To(ContainSubstring("40.00"))
		Expect(texts).To(ContainSubstring("ada@example.com"))
	})

	It("reuses the cached module across disable and enable", func() {
		Expect(controller.Disable(ctx, stripeID)).To(Succeed())
		Expect(render(plugin.PaymentMethodsContext{Amount: 1, Currency: "USD"})).To(BeEmpty())

		Expect(controller.Enable(ctx, stripeID)).To(Succeed())
		Expect(render(plugin.PaymentMethodsContext{Amount: 1, Currency: "USD"})).To(HaveLen(1))
		Expect(fetches.Load()).To(Equal(int32(1)))
	})

	It("fetches the bundle again on reload", func() {
		Expect(controller.Reload(ctx, stripeID)).To(Succeed())
		Expect(fetches.Load()).To(Equal(int32(2)))
		Expect(controller.Status(stripeID).State).To(Equal(plugin.StateEnabled))
	})

	It("drops every slot on uninstall", func() {
		Expect(controller.Uninstall(ctx, stripeID)).To(Succeed())
		Expect(registry.Plugins()).To(BeEmpty())
		Expect(render(plugin.CheckoutConfirmationContext{Amount: 1, Currency: "USD"})).To(BeEmpty())
	})
})
