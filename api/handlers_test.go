/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Registration bonus and balances
- Authorize / commit round trip, replays and stale authorizations
- Error mapping (400, 404, 409, 422)
- Settlement endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	t       *testing.T
	handler *Handler
	router  http.Handler
	clock   *generic.FixedClock
	token   string
}

func newTestServer(t *testing.T, jwtSecret string) *testServer {
	t.Helper()
	clock := generic.NewFixedClock(time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC))
	opts := coin.DefaultOptions()
	opts.Clock = clock

	h := NewHandler(Config{
		Store:            memory.New(),
		Options:          opts,
		SpendTokenSecret: []byte("spend-secret"),
		JWTSecret:        jwtSecret,
	})
	return &testServer{t: t, handler: h, router: NewRouter(h), clock: clock}
}

// as returns a copy of the server that sends a bearer token for userID.
func (s *testServer) as(userID string, role coin.Role) *testServer {
	s.t.Helper()
	token, err := s.handler.Auth().Issue(generic.EntityID(userID), role, time.Hour)
	require.NoError(s.t, err)
	c := *s
	c.token = token
	return &c
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func assertAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.NewFromInt(want).Equal(got), "want %d, got %s", want, got)
}

func (s *testServer) register(id string, role coin.Role) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/users", RegisterUserRequest{ID: id, Name: "User " + id, Role: string(role)})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) grantGovernment(userID string, amount int64) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/admin/grants", GrantCoinsRequest{
		UserID:   userID,
		CoinType: "government",
		Amount:   decimal.NewFromInt(amount),
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) authorize(req AuthorizeSpendRequest) *httptest.ResponseRecorder {
	s.t.Helper()
	return s.do(http.MethodPost, "/api/spend/authorize", req)
}

func (s *testServer) balance(userID string) BalanceDTO {
	s.t.Helper()
	rec := s.do(http.MethodGet, "/api/users/"+userID+"/balance", nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[BalanceDTO](s.t, rec)
}

func spend(userID string, target, gov, self int64, category coin.SpendCategory) AuthorizeSpendRequest {
	return AuthorizeSpendRequest{
		UserID:           userID,
		TargetAmount:     decimal.NewFromInt(target),
		GovernmentAmount: decimal.NewFromInt(gov),
		SelfAmount:       decimal.NewFromInt(self),
		Category:         string(category),
	}
}

// =============================================================================
// USERS
// =============================================================================

func TestRegisterUser_CreditsRegistrationBonus(t *testing.T) {
	s := newTestServer(t, "")

	// WHEN: A member registers
	s.register("u1", coin.RoleMember)

	// THEN: They hold 100 self coins and no government coins
	b := s.balance("u1")
	assertAmount(t, 100, b.Self)
	assertAmount(t, 0, b.Government)
	assertAmount(t, 100, b.Total)
}

func TestRegisterUser_ValidationAndDuplicates(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(http.MethodPost, "/api/users", map[string]string{"id": "u1", "name": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/users", map[string]string{"id": "u1", "name": "A", "nickname": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	s.register("u1", coin.RoleMember)
	rec = s.do(http.MethodPost, "/api/users", RegisterUserRequest{ID: "u1", Name: "Again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetUser_NotFound(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(http.MethodGet, "/api/users/ghost/balance", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SPEND
// =============================================================================

func TestSpend_AuthorizeThenCommit(t *testing.T) {
	// GIVEN: 500 government and 100 self coins
	s := newTestServer(t, "")
	s.register("u1", coin.RoleMember)
	s.grantGovernment("u1", 500)

	// WHEN: A 300 coin exercise purchase is paid 200 government + 100 self
	rec := s.authorize(spend("u1", 300, 200, 100, coin.CategoryExercise))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	auth := decodeBody[AuthorizationDTO](t, rec)
	require.NotEmpty(t, auth.Token)

	commitReq := CommitSpendRequest{Token: auth.Token, RelatedType: "event", RelatedID: "gym-pass"}
	rec = s.do(http.MethodPost, "/api/spend/commit", commitReq)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	commit := decodeBody[CommitDTO](t, rec)

	// THEN: Both coins are debited
	assert.Len(t, commit.Transactions, 2)
	b := s.balance("u1")
	assertAmount(t, 300, b.Government)
	assertAmount(t, 0, b.Self)

	// AND: Committing the same token again replays the original commit
	rec = s.do(http.MethodPost, "/api/spend/commit", commitReq)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	replay := decodeBody[CommitDTO](t, rec)
	assert.True(t, replay.Replayed)
	assert.Equal(t, commit.ID, replay.ID)
	assertAmount(t, 300, s.balance("u1").Government)
}

func TestSpend_StaleAuthorizationConflicts(t *testing.T) {
	s := newTestServer(t, "")
	s.register("u1", coin.RoleMember)
	s.grantGovernment("u1", 500)

	// GIVEN: Two authorizations issued against the same balance version
	first := decodeBody[AuthorizationDTO](t, s.authorize(spend("u1", 100, 100, 0, coin.CategoryExercise)))
	second := decodeBody[AuthorizationDTO](t, s.authorize(spend("u1", 100, 100, 0, coin.CategoryExercise)))
	assert.Equal(t, first.BalanceVersion, second.BalanceVersion)

	// WHEN: Both are committed for different purchases
	rec := s.do(http.MethodPost, "/api/spend/commit", CommitSpendRequest{Token: first.Token, RelatedType: "event", RelatedID: "a"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/spend/commit", CommitSpendRequest{Token: second.Token, RelatedType: "event", RelatedID: "b"})

	// THEN: The second is rejected and nothing more is spent
	assert.Equal(t, http.StatusConflict, rec.Code)
	assertAmount(t, 400, s.balance("u1").Government)
}

func TestSpend_TamperedTokenRejected(t *testing.T) {
	s := newTestServer(t, "")
	s.register("u1", coin.RoleMember)

	auth := decodeBody[AuthorizationDTO](t, s.authorize(spend("u1", 50, 0, 50, coin.CategoryExercise)))

	rec := s.do(http.MethodPost, "/api/spend/commit", CommitSpendRequest{
		Token:       auth.Token + "x",
		RelatedType: "event",
		RelatedID:   "a",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assertAmount(t, 100, s.balance("u1").Self)
}

func TestSpend_ExpiredAuthorizationRejected(t *testing.T) {
	s := newTestServer(t, "")
	s.register("u1", coin.RoleMember)

	auth := decodeBody[AuthorizationDTO](t, s.authorize(spend("u1", 50, 0, 50, coin.CategoryExercise)))
	s.clock.Advance(coin.DefaultTokenTTL + time.Minute)

	rec := s.do(http.MethodPost, "/api/spend/commit", CommitSpendRequest{Token: auth.Token, RelatedType: "event", RelatedID: "a"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpend_CommitMustMatchCatalogItem(t *testing.T) {
	// GIVEN: A 1000 coin course that takes at most 100 government coins
	s := newTestServer(t, "")
	s.register("teacher", coin.RoleTeacher)
	s.register("u1", coin.RoleMember)
	s.grantGovernment("u1", 1000)
	limit := decimal.NewFromInt(100)
	rec := s.do(http.MethodPost, "/api/courses", CreateCourseRequest{
		ID: "tennis", TeacherID: "teacher", Title: "Tennis", Price: decimal.NewFromInt(1000), MaxGovernmentCoin: &limit,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	tests := []struct {
		name string
		req  AuthorizeSpendRequest
	}{
		{"full price under another category", spend("u1", 1000, 1000, 0, coin.CategoryExercise)},
		{"token price below course price", spend("u1", 1, 0, 1, coin.CategoryGeneral)},
		{"course category without the course cap", spend("u1", 1000, 150, 0, coin.CategoryCourse)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.authorize(tt.req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			auth := decodeBody[AuthorizationDTO](t, rec)

			// WHEN: The token is committed against the course
			rec = s.do(http.MethodPost, "/api/spend/commit", CommitSpendRequest{Token: auth.Token, RelatedType: "course", RelatedID: "tennis"})

			// THEN: It is rejected and nothing is spent or enrolled
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assertAmount(t, 1000, s.balance("u1").Government)
			assertAmount(t, 100, s.balance("u1").Self)
		})
	}

	rec = s.do(http.MethodGet, "/api/users/u1/enrollments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]EnrollmentDTO](t, rec))

	// A token carrying the course terms commits.
	req := spend("u1", 1000, 100, 0, coin.CategoryCourse)
	req.ItemCap = &limit
	auth := decodeBody[AuthorizationDTO](t, s.authorize(req))
	rec = s.do(http.MethodPost, "/api/spend/commit", CommitSpendRequest{Token: auth.Token, RelatedType: "course", RelatedID: "tennis"})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAuthorize_BusinessRules(t *testing.T) {
	s := newTestServer(t, "")
	s.register("u1", coin.RoleMember)
	s.grantGovernment("u1", 500)

	tests := []struct {
		name string
		req  AuthorizeSpendRequest
		code string
	}{
		{"equipment cap", spend("u1", 300, 300, 0, coin.CategoryEquipment), "cap_exceeded"},
		{"split above price", spend("u1", 100, 80, 40, coin.CategoryExercise), "overspend"},
		{"not enough self coins", spend("u1", 300, 0, 300, coin.CategoryExercise), "insufficient_balance"},
		{"not enough government coins", spend("u1", 900, 900, 0, coin.CategoryExercise), "insufficient_balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.authorize(tt.req)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}

	// Equipment split within the cap passes.
	rec := s.authorize(spend("u1", 300, 200, 100, coin.CategoryEquipment))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAuthorize_InvalidRequest(t *testing.T) {
	s := newTestServer(t, "")
	s.register("u1", coin.RoleMember)

	req := spend("u1", 100, -1, 0, coin.CategoryExercise)
	rec := s.authorize(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = spend("u1", 100, 0, 10, "skydiving")
	rec = s.authorize(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefund_RestoresCoins(t *testing.T) {
	s := newTestServer(t, "")
	s.register("u1", coin.RoleMember)
	s.grantGovernment("u1", 500)

	auth := decodeBody[AuthorizationDTO](t, s.authorize(spend("u1", 300, 200, 100, coin.CategoryExercise)))
	rec := s.do(http.MethodPost, "/api/spend/commit", CommitSpendRequest{Token: auth.Token, RelatedType: "event", RelatedID: "camp"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: The purchase is refunded
	rec = s.do(http.MethodPost, "/api/spend/refund", RefundSpendRequest{UserID: "u1", RelatedType: "event", RelatedID: "camp"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refund := decodeBody[RefundDTO](t, rec)

	// THEN: Both coins come back and the ledger still reconciles
	assert.Len(t, refund.Refunds, 2)
	b := s.balance("u1")
	assertAmount(t, 500, b.Government)
	assertAmount(t, 100, b.Self)

	rec = s.do(http.MethodGet, "/api/users/u1/reconciliation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[ReconciliationDTO](t, rec).Balanced)

	rec = s.do(http.MethodGet, "/api/users/u1/transactions?type=refund", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]TransactionDTO](t, rec), 2)
}

func TestGrantCoins_IdempotencyKey(t *testing.T) {
	s := newTestServer(t, "")
	s.register("u1", coin.RoleMember)

	req := GrantCoinsRequest{UserID: "u1", CoinType: "government", Amount: decimal.NewFromInt(250), IdempotencyKey: "grant-2025-q1"}
	rec := s.do(http.MethodPost, "/api/admin/grants", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/admin/grants", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[GrantResultDTO](t, rec).Replayed)
	assertAmount(t, 250, s.balance("u1").Government)
}

// =============================================================================
// COURSES & SETTLEMENT
// =============================================================================

func TestEnrollAndSettle(t *testing.T) {
	s := newTestServer(t, "")
	s.register("teacher", coin.RoleTeacher)
	s.register("u1", coin.RoleMember)
	s.grantGovernment("u1", 500)

	rec := s.do(http.MethodPost, "/api/courses", CreateCourseRequest{
		ID:        "yoga",
		TeacherID: "teacher",
		Title:     "Yoga",
		Price:     decimal.NewFromInt(300),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// GIVEN: An enrollment in February paid 200 government + 100 self
	rec = s.do(http.MethodPost, "/api/courses/yoga/enroll", EnrollCourseRequest{
		UserID:           "u1",
		GovernmentAmount: decimal.NewFromInt(200),
		SelfAmount:       decimal.NewFromInt(100),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	enrolled := decodeBody[EnrollmentResultDTO](t, rec)
	assert.Equal(t, "paid", enrolled.Enrollment.PaymentStatus)

	rec = s.do(http.MethodPost, "/api/courses/yoga/enroll", EnrollCourseRequest{UserID: "u1"})
	assert.Equal(t, http.StatusConflict, rec.Code, "second enrollment")

	// WHEN: Settlements run in March for the previous month
	s.clock.Set(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	rec = s.do(http.MethodPost, "/api/settlements/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decodeBody[SettlementRunDTO](t, rec)

	// THEN: The teacher receives 70% of 300
	assert.Equal(t, "2025-02-01", run.PeriodStart)
	assert.Equal(t, "2025-02-28", run.PeriodEnd)
	require.Len(t, run.Started, 1)
	started := run.Started[0]
	assert.Equal(t, "teacher", started.EntityType)
	assertAmount(t, 300, started.TotalRevenue)
	assertAmount(t, 210, started.SharingAmount)
	assert.Equal(t, "pending", started.Status)

	// AND: It moves to settled with a settlement date
	rec = s.do(http.MethodPost, "/api/settlements/"+started.ID+"/advance", AdvanceSettlementRequest{Status: "processing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/settlements/"+started.ID+"/advance", AdvanceSettlementRequest{Status: "settled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decodeBody[SettlementDTO](t, rec)
	require.NotNil(t, settled.SettlementDate)

	// AND: A settled row cannot move again or be restarted
	rec = s.do(http.MethodPost, "/api/settlements/"+started.ID+"/advance", AdvanceSettlementRequest{Status: "pending"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/api/settlements/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rerun := decodeBody[SettlementRunDTO](t, rec)
	assert.Empty(t, rerun.Started)
	assert.Equal(t, []string{"teacher/teacher"}, rerun.Skipped)

	rec = s.do(http.MethodGet, "/api/settlements?status=settled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]SettlementDTO](t, rec), 1)
}

func TestCertificate_IssueAndVerify(t *testing.T) {
	s := newTestServer(t, "")
	s.register("teacher", coin.RoleTeacher)
	s.register("u1", coin.RoleMember)

	rec := s.do(http.MethodPost, "/api/courses", CreateCourseRequest{ID: "c1", TeacherID: "teacher", Title: "Swim", Price: decimal.NewFromInt(50)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/courses/c1/enroll", EnrollCourseRequest{UserID: "u1", SelfAmount: decimal.NewFromInt(50)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	enrollmentID := decodeBody[EnrollmentResultDTO](t, rec).Enrollment.ID

	// Not completed yet
	rec = s.do(http.MethodPost, "/api/enrollments/"+enrollmentID+"/certificate", nil)
	assert.NotEqual(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/api/enrollments/"+enrollmentID+"/completion", UpdateCompletionRequest{Status: "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(http.MethodPost, "/api/enrollments/"+enrollmentID+"/certificate", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cert := decodeBody[CertificateDTO](t, rec)

	rec = s.do(http.MethodGet, "/api/certificates/"+cert.VerificationCode, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, enrollmentID, decodeBody[CertificateDTO](t, rec).EnrollmentID)

	// Certified enrollments cannot be cancelled
	rec = s.do(http.MethodPost, "/api/enrollments/"+enrollmentID+"/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_Guards(t *testing.T) {
	s := newTestServer(t, "jwt-secret")
	admin := s.as("root", coin.RoleAdmin)
	admin.register("u1", coin.RoleMember)
	admin.register("u2", coin.RoleMember)

	// No token
	rec := s.do(http.MethodGet, "/api/users/u1/balance", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Own balance
	u1 := s.as("u1", coin.RoleMember)
	rec = u1.do(http.MethodGet, "/api/users/u1/balance", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Someone else's balance or coins
	rec = u1.do(http.MethodGet, "/api/users/u2/balance", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = u1.authorize(spend("u2", 10, 0, 10, coin.CategoryExercise))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Admin-only and role-restricted routes
	rec = u1.do(http.MethodPost, "/api/admin/grants", GrantCoinsRequest{UserID: "u1", CoinType: "self", Amount: decimal.NewFromInt(1)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = u1.do(http.MethodPost, "/api/courses", CreateCourseRequest{TeacherID: "u1", Title: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = u1.do(http.MethodPost, "/api/users", RegisterUserRequest{ID: "boss", Name: "Boss", Role: "admin"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Course refunds cancel enrollments, which members may not do themselves
	rec = u1.do(http.MethodPost, "/api/spend/refund", RefundSpendRequest{UserID: "u1", RelatedType: "course", RelatedID: "c1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = admin.do(http.MethodPost, "/api/spend/refund", RefundSpendRequest{UserID: "u1", RelatedType: "course", RelatedID: "c1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Certificate verification stays public
	rec = s.do(http.MethodGet, "/api/certificates/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
