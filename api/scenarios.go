/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic data
  for demos. Each scenario registers users, grants coins, builds a small
  catalog and makes purchases through the same services the API uses.

AVAILABLE SCENARIOS:
  new-member:        Registration bonus plus a yearly government grant
  course-enrollment: Mixed government/self payment, completion, certificate
  equipment-cap:     Government coins capped at 200 for equipment
  expiring-coins:    Two government grants; the earliest expiry is spent first
  monthly-settlement: A teacher and a merchant with revenue this month

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Register users (each gets the registration bonus)
 3. Grant government coins
 4. Create catalog entries
 5. Optionally purchase

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "course-enrollment"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Services the loaders call
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/commerce"
	"github.com/sportcoin/coin-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(h *Handler, ctx context.Context) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "new-member",
			Name:        "New Member",
			Description: "Registration bonus of self coins plus a 1000 coin government grant",
		},
		load: (*Handler).loadNewMemberScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "course-enrollment",
			Name:        "Course Enrollment",
			Description: "Course paid with 200 government + 100 self coins, completed and certified",
		},
		load: (*Handler).loadCourseEnrollmentScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "equipment-cap",
			Name:        "Equipment Cap",
			Description: "At most 200 government coins per equipment purchase; pay the rest in self coins",
		},
		load: (*Handler).loadEquipmentCapScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "expiring-coins",
			Name:        "Expiring Coins",
			Description: "Spends draw from the government grant that expires first",
		},
		load: (*Handler).loadExpiringCoinsScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "monthly-settlement",
			Name:        "Monthly Settlement",
			Description: "Teacher and merchant revenue this month, ready to preview and settle",
		},
		load: (*Handler).loadMonthlySettlementScenario,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = ""

	if err := s.load(h, ctx); err != nil {
		h.fail(w, r, fmt.Errorf("load scenario %s: %w", s.ID, err))
		return
	}
	h.currentScenario = s.ID
	h.log.Infof("loaded scenario %s", s.ID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Store.(generic.Resetter)
	if !ok {
		return fmt.Errorf("reset: %w", generic.ErrStoreRequired)
	}
	return resetter.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) register(ctx context.Context, id, name string, role coin.Role) error {
	_, err := h.Writer.RegisterUser(ctx, coin.RegisterRequest{
		ID:    generic.EntityID(id),
		Name:  name,
		Email: id + "@example.com",
		Role:  role,
	})
	return err
}

func (h *Handler) grantGovernment(ctx context.Context, userID string, amount int64, validFor time.Duration) error {
	until := h.clock.Now().Add(validFor)
	_, err := h.Writer.GrantCoins(ctx, coin.GrantRequest{
		UserID:         generic.EntityID(userID),
		CoinType:       coin.Government,
		Amount:         decimal.NewFromInt(amount),
		ValidUntil:     &until,
		Notes:          "scenario grant",
		IdempotencyKey: fmt.Sprintf("scenario:%s:%d:%s", userID, amount, validFor),
		CreatedBy:      "scenario",
	})
	return err
}

func (h *Handler) loadNewMemberScenario(ctx context.Context) error {
	if err := h.register(ctx, "member-001", "Alex Runner", coin.RoleMember); err != nil {
		return err
	}
	return h.grantGovernment(ctx, "member-001", 1000, 365*24*time.Hour)
}

func (h *Handler) loadCourseEnrollmentScenario(ctx context.Context) error {
	if err := h.register(ctx, "teacher-001", "Coach Kim", coin.RoleTeacher); err != nil {
		return err
	}
	if err := h.register(ctx, "member-001", "Alex Runner", coin.RoleMember); err != nil {
		return err
	}
	if err := h.grantGovernment(ctx, "member-001", 500, 365*24*time.Hour); err != nil {
		return err
	}
	course, err := h.Commerce.CreateCourse(ctx, commerce.Course{
		ID:          "course-yoga",
		TeacherID:   "teacher-001",
		Title:       "Morning Yoga",
		Category:    coin.CategoryCourse,
		Price:       decimal.NewFromInt(300),
		MaxStudents: 20,
	})
	if err != nil {
		return err
	}
	res, err := h.Commerce.Enroll(ctx, commerce.EnrollRequest{
		UserID:     "member-001",
		CourseID:   course.ID,
		Government: decimal.NewFromInt(200),
		Self:       decimal.NewFromInt(100),
	})
	if err != nil {
		return err
	}
	if _, err := h.Commerce.UpdateCompletion(ctx, res.Enrollment.ID, commerce.CompletionCompleted); err != nil {
		return err
	}
	_, err = h.Commerce.IssueCertificate(ctx, res.Enrollment.ID)
	return err
}

func (h *Handler) loadEquipmentCapScenario(ctx context.Context) error {
	if err := h.register(ctx, "store-001", "Sport Shop Owner", coin.RoleStore); err != nil {
		return err
	}
	if err := h.register(ctx, "member-001", "Alex Runner", coin.RoleMember); err != nil {
		return err
	}
	if err := h.grantGovernment(ctx, "member-001", 500, 365*24*time.Hour); err != nil {
		return err
	}
	if _, err := h.Commerce.CreateMerchant(ctx, commerce.Merchant{ID: "merchant-001", OwnerID: "store-001", Name: "Sport Shop"}); err != nil {
		return err
	}
	_, err := h.Commerce.CreateProduct(ctx, commerce.Product{
		ID:            "product-bike",
		MerchantID:    "merchant-001",
		Name:          "Road Bike",
		Category:      coin.CategoryEquipment,
		Price:         decimal.NewFromInt(300),
		StockQuantity: 3,
	})
	return err
}

func (h *Handler) loadExpiringCoinsScenario(ctx context.Context) error {
	if err := h.register(ctx, "member-001", "Alex Runner", coin.RoleMember); err != nil {
		return err
	}
	if err := h.grantGovernment(ctx, "member-001", 300, 30*24*time.Hour); err != nil {
		return err
	}
	if err := h.grantGovernment(ctx, "member-001", 300, 365*24*time.Hour); err != nil {
		return err
	}

	token, err := h.Authorizer.Authorize(ctx, coin.SpendRequest{
		UserID:       "member-001",
		TargetAmount: decimal.NewFromInt(200),
		Government:   decimal.NewFromInt(200),
		Category:     coin.CategoryExercise,
	})
	if err != nil {
		return err
	}
	_, err = h.Writer.CommitSpend(ctx, coin.CommitRequest{
		Token:       *token,
		RelatedType: coin.RelatedEvent,
		RelatedID:   "gym-day-pass",
		CreatedBy:   "scenario",
	})
	return err
}

func (h *Handler) loadMonthlySettlementScenario(ctx context.Context) error {
	if err := h.loadCourseEnrollmentScenario(ctx); err != nil {
		return err
	}
	if err := h.register(ctx, "store-001", "Sport Shop Owner", coin.RoleStore); err != nil {
		return err
	}
	if _, err := h.Commerce.CreateMerchant(ctx, commerce.Merchant{ID: "merchant-001", OwnerID: "store-001", Name: "Sport Shop"}); err != nil {
		return err
	}
	if _, err := h.Commerce.CreateProduct(ctx, commerce.Product{
		ID:            "product-ball",
		MerchantID:    "merchant-001",
		Name:          "Football",
		Category:      coin.CategoryEquipment,
		Price:         decimal.NewFromInt(80),
		StockQuantity: 10,
	}); err != nil {
		return err
	}
	if _, err := h.Commerce.Redeem(ctx, commerce.RedeemRequest{
		UserID:     "member-001",
		ProductID:  "product-ball",
		Government: decimal.NewFromInt(80),
		OrderRef:   "scenario-order-1",
	}); err != nil {
		return err
	}
	_, err := h.Commerce.RecordSale(ctx, commerce.SportsSale{
		MerchantID:  "merchant-001",
		Amount:      decimal.NewFromInt(1200),
		Status:      commerce.SalePaid,
		Description: "Counter sales",
	})
	return err
}
