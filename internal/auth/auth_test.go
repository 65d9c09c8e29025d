package auth_test

import (
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/KevinKickass/OpenMotionCore/internal/auth"
)

var _ = Describe("JWTHandler", func() {
	var j *auth.JWTHandler

	BeforeEach(func() {
		j = auth.NewJWTHandler("0123456789abcdef0123456789abcdef", "motioncore", time.Hour)
	})

	It("round-trips operator claims", func() {
		id := uuid.New()
		token, err := j.GenerateToken(id, "alice", auth.RoleTechnician)
		Expect(err).NotTo(HaveOccurred())

		claims, err := j.ValidateToken(token)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.OperatorID).To(Equal(id))
		Expect(claims.Operator).To(Equal("alice"))
		Expect(claims.Subject).To(Equal(id.String()))
	})

	It("rejects unknown roles", func() {
		_, err := j.GenerateToken(uuid.New(), "bob", "root")
		Expect(err).To(MatchError(ContainSubstring("unknown role")))
	})

	It("rejects tokens signed with another secret or issuer", func() {
		other := auth.NewJWTHandler("another-secret-another-secret-123", "motioncore", time.Hour)
		token, err := other.GenerateToken(uuid.New(), "eve", auth.RoleAdmin)
		Expect(err).NotTo(HaveOccurred())
		_, err = j.ValidateToken(token)
		Expect(err).To(HaveOccurred())

		foreign := auth.NewJWTHandler("0123456789abcdef0123456789abcdef", "elsewhere", time.Hour)
		token, err = foreign.GenerateToken(uuid.New(), "eve", auth.RoleAdmin)
		Expect(err).NotTo(HaveOccurred())
		_, err = j.ValidateToken(token)
		Expect(err).To(HaveOccurred())
	})

	It("rejects expired tokens", func() {
		expired := auth.NewJWTHandler("0123456789abcdef0123456789abcdef", "motioncore", -time.Minute)
		token, err := expired.GenerateToken(uuid.New(), "carol", auth.RoleOperator)
		Expect(err).NotTo(HaveOccurred())
		_, err = j.ValidateToken(token)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Middleware", func() {
	var (
		j      *auth.JWTHandler
		router *gin.Engine
	)

	BeforeEach(func() {
		j = auth.NewJWTHandler("0123456789abcdef0123456789abcdef", "motioncore", time.Hour)
		router = gin.New()
		router.POST("/home", auth.Middleware(j), auth.RequirePermission(auth.PermHome), func(c *gin.Context) {
			c.String(http.StatusOK, auth.Operator(c))
		})
	})

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/home", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("requires a bearer token", func() {
		Expect(do("").Code).To(Equal(http.StatusUnauthorized))
		Expect(do("Basic abc").Code).To(Equal(http.StatusUnauthorized))
		Expect(do("Bearer nonsense").Code).To(Equal(http.StatusUnauthorized))
	})

	It("enforces role permissions", func() {
		token, _ := j.GenerateToken(uuid.New(), "op", auth.RoleOperator)
		w := do("Bearer " + token)
		Expect(w.Code).To(Equal(http.StatusForbidden))
		Expect(w.Body.String()).To(ContainSubstring("AUTH_403"))

		token, _ = j.GenerateToken(uuid.New(), "tech", auth.RoleTechnician)
		w = do("Bearer " + token)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("tech"))
	})
})
