package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_LoadEach(t *testing.T) {
	for _, sc := range scenarios {
		t.Run(sc.ID, func(t *testing.T) {
			s := newTestServer(t, "")

			rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: sc.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, sc.ID, decodeBody[ScenarioDTO](t, rec).ID)

			// Every scenario leaves member-001 with a reconciled ledger.
			rec = s.do(http.MethodGet, "/api/users/member-001/reconciliation", nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.True(t, decodeBody[ReconciliationDTO](t, rec).Balanced)
		})
	}
}

func TestScenarios_CourseEnrollmentBalances(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "course-enrollment"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// 500 government - 200, registration bonus 100 - 100
	b := s.balance("member-001")
	assertAmount(t, 300, b.Government)
	assertAmount(t, 0, b.Self)

	// Loading again starts from an empty store
	rec = s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "course-enrollment"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertAmount(t, 300, s.balance("member-001").Government)
}

func TestScenarios_ResetAndUnknown(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "new-member"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/users/member-001", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), len(scenarios))
}
