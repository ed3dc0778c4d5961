package auth

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rjsadow/folio/internal/plugins"
)

// adapter builds a provider whose underlying state knows user u1 (through
// the returned session token) and the API keys of readKeys().
type adapter struct {
	name  string
	build func() (plugins.AuthProvider, string)
}

var adapters = []adapter{
	{
		name: "local",
		build: func() (plugins.AuthProvider, string) {
			client := newFakeLocalClient()
			p := NewLocalAuthProvider(client)
			Expect(p.Initialize(context.Background(), map[string]string{})).To(Succeed())
			return p, "sess-1"
		},
	},
	{
		name: "jwt",
		build: func() (plugins.AuthProvider, string) {
			p := NewJWTAuthProvider(readKeys())
			Expect(p.Initialize(context.Background(), map[string]string{"jwt_secret": testSecret})).To(Succeed())
			token, _, err := p.IssueSession(plugins.SessionUser{ID: "u1", Email: "ada@example.com"})
			Expect(err).NotTo(HaveOccurred())
			return p, token
		},
	},
	{
		name: "oidc",
		build: func() (plugins.AuthProvider, string) {
			f := newOIDCFixture(GinkgoT())
			p := f.provider(GinkgoT(), nil)
			return p, f.sign(GinkgoT(), f.claims("u1"))
		},
	},
}

var _ = Describe("AuthProvider", func() {
	ctx := context.Background()

	for _, a := range adapters {
		Describe(a.name+" adapter", func() {
			var (
				provider plugins.AuthProvider
				token    string
			)

			BeforeEach(func() {
				provider, token = a.build()
			})

			Context("with no credentials", func() {
				var req *http.Request

				BeforeEach(func() {
					req = newRequest()
				})

				It("resolves no session", func() {
					session, err := provider.GetSession(ctx, req)
					Expect(err).NotTo(HaveOccurred())
					Expect(session).To(BeNil())
				})

				It("resolves no API key", func() {
					key, err := provider.ValidateAPIKey(ctx, req)
					Expect(err).NotTo(HaveOccurred())
					Expect(key).To(BeNil())
				})

				It("fails RequireSession with ErrUnauthorized", func() {
					_, err := provider.RequireSession(ctx, req)
					Expect(err).To(MatchError(plugins.ErrUnauthorized))
				})

				It("fails RequireAPIKey with ErrUnauthorized", func() {
					_, err := provider.RequireAPIKey(ctx, req)
					Expect(err).To(MatchError(plugins.ErrUnauthorized))
					_, err = provider.RequireAPIKey(ctx, req, plugins.PermissionRead)
					Expect(err).To(MatchError(plugins.ErrUnauthorized))
				})
			})

			Context("with a valid session token", func() {
				It("resolves the authenticated user", func() {
					session, err := provider.GetSession(ctx, withSessionCookie(token))
					Expect(err).NotTo(HaveOccurred())
					Expect(session).NotTo(BeNil())
					Expect(session.Kind).To(Equal(plugins.AuthKindSession))
					Expect(session.User.ID).To(Equal("u1"))
					Expect(session.Session.ID).NotTo(BeEmpty())
				})

				It("is idempotent within a request", func() {
					req := withBearer(token)
					first, err := provider.GetSession(ctx, req)
					Expect(err).NotTo(HaveOccurred())
					second, err := provider.GetSession(ctx, req)
					Expect(err).NotTo(HaveOccurred())
					Expect(second).To(Equal(first))
					Expect(second).NotTo(BeIdenticalTo(first))
				})

				It("satisfies RequireSession", func() {
					session, err := provider.RequireSession(ctx, withBearer(token))
					Expect(err).NotTo(HaveOccurred())
					Expect(session.User.ID).To(Equal("u1"))
				})
			})

			Context("with an invalid session token", func() {
				It("treats it as absent", func() {
					session, err := provider.GetSession(ctx, withBearer("forged"))
					Expect(err).NotTo(HaveOccurred())
					Expect(session).To(BeNil())
					_, err = provider.RequireSession(ctx, withBearer("forged"))
					Expect(err).To(MatchError(plugins.ErrUnauthorized))
				})
			})

			Context(`with "x-api-key: abc123" bound to k1 with [read]`, func() {
				var req *http.Request

				BeforeEach(func() {
					req = withAPIKey("abc123")
				})

				It("validates to the key's identity", func() {
					key, err := provider.ValidateAPIKey(ctx, req)
					Expect(err).NotTo(HaveOccurred())
					Expect(key).NotTo(BeNil())
					Expect(key.Kind).To(Equal(plugins.AuthKindAPIKey))
					Expect(key.KeyID).To(Equal("k1"))
					Expect(key.Name).To(Equal("reader"))
					Expect(key.Permissions.List()).To(Equal([]plugins.Permission{plugins.PermissionRead}))
				})

				It("is forbidden from write", func() {
					_, err := provider.RequireAPIKey(ctx, req, plugins.PermissionWrite)
					Expect(err).To(MatchError(plugins.ErrForbidden))
				})

				It("is allowed to read", func() {
					key, err := provider.RequireAPIKey(ctx, req, plugins.PermissionRead)
					Expect(err).NotTo(HaveOccurred())
					Expect(key.KeyID).To(Equal("k1"))
				})

				It("is forbidden when any listed permission is missing", func() {
					_, err := provider.RequireAPIKey(ctx, req, plugins.PermissionRead, plugins.PermissionWrite)
					Expect(err).To(MatchError(plugins.ErrForbidden))
				})

				It("does not resolve a session", func() {
					session, err := provider.GetSession(ctx, req)
					Expect(err).NotTo(HaveOccurred())
					Expect(session).To(BeNil())
				})
			})

			Context("with no permission argument", func() {
				It("accepts any valid key", func() {
					for _, raw := range []string{"abc123", "rw", "bare"} {
						key, err := provider.RequireAPIKey(ctx, withAPIKey(raw))
						Expect(err).NotTo(HaveOccurred(), raw)
						Expect(key).NotTo(BeNil(), raw)
					}
				})

				It("still rejects invalid keys", func() {
					for _, raw := range []string{"nope", "off"} {
						_, err := provider.RequireAPIKey(ctx, withAPIKey(raw))
						Expect(err).To(MatchError(plugins.ErrUnauthorized), raw)
					}
				})
			})
		})
	}

	Describe("noop adapter", func() {
		It("resolves nothing even with credentials", func() {
			p := NewNoopAuthProvider()
			req := withAPIKey("abc123")
			req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "sess-1"})

			session, err := p.GetSession(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(session).To(BeNil())
			key, err := p.ValidateAPIKey(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(BeNil())
			_, err = p.RequireSession(ctx, req)
			Expect(err).To(MatchError(plugins.ErrUnauthorized))
		})
	})
})
