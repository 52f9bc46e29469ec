// Package memory provides an in-memory TxStore implementing every domain
// port. It is used by tests, the demo server and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/commerce"
	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/settlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory serializes every unit of work behind one mutex. WithTx snapshots
// the state and restores it when the callback fails.
type Memory struct {
	mu sync.Mutex
	st *state
}

var (
	_ generic.TxStore  = (*Memory)(nil)
	_ generic.Resetter = (*Memory)(nil)
	_ coin.Store       = (*view)(nil)
	_ commerce.Store   = (*view)(nil)
	_ settlement.Store = (*view)(nil)
)

func New() *Memory {
	return &Memory{st: newState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&view{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// The ledger methods below run as single-statement units of work.

func (m *Memory) Append(ctx context.Context, tx generic.Transaction) error {
	return m.WithTx(ctx, func(s generic.Store) error { return s.Append(ctx, tx) })
}

func (m *Memory) AppendBatch(ctx context.Context, txs []generic.Transaction) error {
	return m.WithTx(ctx, func(s generic.Store) error { return s.AppendBatch(ctx, txs) })
}

func (m *Memory) Query(ctx context.Context, filter generic.TransactionFilter) ([]generic.Transaction, error) {
	var out []generic.Transaction
	err := m.WithTx(ctx, func(s generic.Store) error {
		var err error
		out, err = s.Query(ctx, filter)
		return err
	})
	return out, err
}

func (m *Memory) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var ok bool
	err := m.WithTx(ctx, func(s generic.Store) error {
		var err error
		ok, err = s.Exists(ctx, idempotencyKey)
		return err
	})
	return ok, err
}

// =============================================================================
// STATE
// =============================================================================

type sharingKey struct {
	entityType settlement.EntityType
	entityID   string
	period     string
}

type enrollmentKey struct {
	userID   generic.EntityID
	courseID string
}

type state struct {
	transactions []generic.Transaction
	idempotency  map[string]bool

	users  map[generic.EntityID]coin.User
	grants map[string]coin.Grant
	spends []coin.SpendRecord

	courses      map[string]commerce.Course
	products     map[string]commerce.Product
	merchants    map[string]commerce.Merchant
	enrollments  map[string]commerce.Enrollment
	enrolledBy   map[enrollmentKey]string
	certificates map[string]commerce.Certificate // by verification code
	certified    map[string]bool                 // enrollment IDs
	sales        []commerce.SportsSale
	fees         []commerce.MerchantFee

	sharing    map[string]settlement.RevenueSharing
	sharingKey map[sharingKey]string
}

func newState() *state {
	return &state{
		idempotency:  make(map[string]bool),
		users:        make(map[generic.EntityID]coin.User),
		grants:       make(map[string]coin.Grant),
		courses:      make(map[string]commerce.Course),
		products:     make(map[string]commerce.Product),
		merchants:    make(map[string]commerce.Merchant),
		enrollments:  make(map[string]commerce.Enrollment),
		enrolledBy:   make(map[enrollmentKey]string),
		certificates: make(map[string]commerce.Certificate),
		certified:    make(map[string]bool),
		sharing:      make(map[string]settlement.RevenueSharing),
		sharingKey:   make(map[sharingKey]string),
	}
}

// clone copies every table. Records are values; their pointer fields are
// replaced, never mutated, so a shallow copy per record is enough.
func (s *state) clone() *state {
	return &state{
		transactions: append([]generic.Transaction(nil), s.transactions...),
		idempotency:  cloneMap(s.idempotency),
		users:        cloneMap(s.users),
		grants:       cloneMap(s.grants),
		spends:       append([]coin.SpendRecord(nil), s.spends...),
		courses:      cloneMap(s.courses),
		products:     cloneMap(s.products),
		merchants:    cloneMap(s.merchants),
		enrollments:  cloneMap(s.enrollments),
		enrolledBy:   cloneMap(s.enrolledBy),
		certificates: cloneMap(s.certificates),
		certified:    cloneMap(s.certified),
		sales:        append([]commerce.SportsSale(nil), s.sales...),
		fees:         append([]commerce.MerchantFee(nil), s.fees...),
		sharing:      cloneMap(s.sharing),
		sharingKey:   cloneMap(s.sharingKey),
	}
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func duplicate(kind, id string) error {
	return fmt.Errorf("%w: %s %q", generic.ErrDuplicate, kind, id)
}

// =============================================================================
// VIEW - The Store handed to WithTx callbacks
// =============================================================================

type view struct {
	st *state
}

// ---- ledger ----

func (v *view) Append(ctx context.Context, tx generic.Transaction) error {
	return v.AppendBatch(ctx, []generic.Transaction{tx})
}

func (v *view) AppendBatch(_ context.Context, txs []generic.Transaction) error {
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if v.st.idempotency[tx.IdempotencyKey] || seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}
	for _, tx := range txs {
		v.st.transactions = append(v.st.transactions, tx)
		if tx.IdempotencyKey != "" {
			v.st.idempotency[tx.IdempotencyKey] = true
		}
	}
	return nil
}

func (v *view) Query(_ context.Context, filter generic.TransactionFilter) ([]generic.Transaction, error) {
	var out []generic.Transaction
	for _, tx := range v.st.transactions {
		if filter.Matches(tx) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return filter.Page(out), nil
}

func (v *view) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	return v.st.idempotency[idempotencyKey], nil
}

// ---- users & grants ----

func (v *view) CreateUser(_ context.Context, u coin.User) error {
	if _, ok := v.st.users[u.ID]; ok {
		return duplicate("user", string(u.ID))
	}
	v.st.users[u.ID] = u
	return nil
}

func (v *view) GetUser(_ context.Context, id generic.EntityID) (*coin.User, error) {
	u, ok := v.st.users[id]
	if !ok {
		return nil, generic.NotFound("user", string(id))
	}
	return &u, nil
}

func (v *view) ListUsers(_ context.Context, role coin.Role) ([]coin.User, error) {
	var out []coin.User
	for _, u := range v.st.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) CompareAndBumpVersion(_ context.Context, id generic.EntityID, expected int64) (bool, error) {
	u, ok := v.st.users[id]
	if !ok {
		return false, generic.NotFound("user", string(id))
	}
	if u.BalanceVersion != expected {
		return false, nil
	}
	u.BalanceVersion++
	v.st.users[id] = u
	return true, nil
}

func (v *view) InsertGrant(_ context.Context, g coin.Grant) error {
	if _, ok := v.st.grants[g.ID]; ok {
		return duplicate("grant", g.ID)
	}
	v.st.grants[g.ID] = g
	return nil
}

func (v *view) GetGrant(_ context.Context, id string) (*coin.Grant, error) {
	g, ok := v.st.grants[id]
	if !ok {
		return nil, generic.NotFound("grant", id)
	}
	return &g, nil
}

func (v *view) UpdateGrantAmount(_ context.Context, id string, amount decimal.Decimal) error {
	g, ok := v.st.grants[id]
	if !ok {
		return generic.NotFound("grant", id)
	}
	g.Amount = amount
	v.st.grants[id] = g
	return nil
}

func (v *view) ListGrants(_ context.Context, userID generic.EntityID, coinType coin.CoinType) ([]coin.Grant, error) {
	var out []coin.Grant
	for _, g := range v.st.grants {
		if g.UserID == userID && (coinType == "" || g.CoinType == coinType) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ---- spend records ----

func (v *view) InsertSpend(_ context.Context, sp coin.SpendRecord) error {
	for _, existing := range v.st.spends {
		if existing.ID == sp.ID {
			return duplicate("spend", sp.ID)
		}
	}
	v.st.spends = append(v.st.spends, sp)
	return nil
}

// ListSpends keeps insertion order, which is commit order.
func (v *view) ListSpends(_ context.Context, key coin.SpendKey) ([]coin.SpendRecord, error) {
	var out []coin.SpendRecord
	for _, sp := range v.st.spends {
		if sp.Key == key {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (v *view) MarkSpendRefunded(_ context.Context, id string, at time.Time) error {
	for i, sp := range v.st.spends {
		if sp.ID == id {
			sp.RefundedAt = &at
			v.st.spends[i] = sp
			return nil
		}
	}
	return generic.NotFound("spend", id)
}

// ---- catalog ----

func (v *view) CreateCourse(_ context.Context, c commerce.Course) error {
	if _, ok := v.st.courses[c.ID]; ok {
		return duplicate("course", c.ID)
	}
	v.st.courses[c.ID] = c
	return nil
}

func (v *view) GetCourse(_ context.Context, id string) (*commerce.Course, error) {
	c, ok := v.st.courses[id]
	if !ok {
		return nil, generic.NotFound("course", id)
	}
	return &c, nil
}

func (v *view) UpdateCourse(_ context.Context, c commerce.Course) error {
	if _, ok := v.st.courses[c.ID]; !ok {
		return generic.NotFound("course", c.ID)
	}
	v.st.courses[c.ID] = c
	return nil
}

func (v *view) ListCourses(_ context.Context, teacherID generic.EntityID) ([]commerce.Course, error) {
	var out []commerce.Course
	for _, c := range v.st.courses {
		if teacherID == "" || c.TeacherID == teacherID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) CreateProduct(_ context.Context, p commerce.Product) error {
	if _, ok := v.st.products[p.ID]; ok {
		return duplicate("product", p.ID)
	}
	v.st.products[p.ID] = p
	return nil
}

func (v *view) GetProduct(_ context.Context, id string) (*commerce.Product, error) {
	p, ok := v.st.products[id]
	if !ok {
		return nil, generic.NotFound("product", id)
	}
	return &p, nil
}

func (v *view) UpdateProduct(_ context.Context, p commerce.Product) error {
	if _, ok := v.st.products[p.ID]; !ok {
		return generic.NotFound("product", p.ID)
	}
	v.st.products[p.ID] = p
	return nil
}

func (v *view) ListProducts(_ context.Context, merchantID string) ([]commerce.Product, error) {
	var out []commerce.Product
	for _, p := range v.st.products {
		if merchantID == "" || p.MerchantID == merchantID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) CreateMerchant(_ context.Context, m commerce.Merchant) error {
	if _, ok := v.st.merchants[m.ID]; ok {
		return duplicate("merchant", m.ID)
	}
	v.st.merchants[m.ID] = m
	return nil
}

func (v *view) GetMerchant(_ context.Context, id string) (*commerce.Merchant, error) {
	m, ok := v.st.merchants[id]
	if !ok {
		return nil, generic.NotFound("merchant", id)
	}
	return &m, nil
}

func (v *view) ListMerchants(_ context.Context) ([]commerce.Merchant, error) {
	out := make([]commerce.Merchant, 0, len(v.st.merchants))
	for _, m := range v.st.merchants {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- enrollments & certificates ----

func (v *view) CreateEnrollment(_ context.Context, e commerce.Enrollment) error {
	k := enrollmentKey{userID: e.UserID, courseID: e.CourseID}
	if _, ok := v.st.enrollments[e.ID]; ok {
		return duplicate("enrollment", e.ID)
	}
	if _, ok := v.st.enrolledBy[k]; ok {
		return duplicate("enrollment", string(e.UserID)+"/"+e.CourseID)
	}
	v.st.enrollments[e.ID] = e
	v.st.enrolledBy[k] = e.ID
	return nil
}

func (v *view) GetEnrollment(_ context.Context, id string) (*commerce.Enrollment, error) {
	e, ok := v.st.enrollments[id]
	if !ok {
		return nil, generic.NotFound("enrollment", id)
	}
	return &e, nil
}

func (v *view) FindEnrollment(_ context.Context, userID generic.EntityID, courseID string) (*commerce.Enrollment, error) {
	id, ok := v.st.enrolledBy[enrollmentKey{userID: userID, courseID: courseID}]
	if !ok {
		return nil, nil
	}
	e := v.st.enrollments[id]
	return &e, nil
}

func (v *view) UpdateEnrollment(_ context.Context, e commerce.Enrollment) error {
	if _, ok := v.st.enrollments[e.ID]; !ok {
		return generic.NotFound("enrollment", e.ID)
	}
	v.st.enrollments[e.ID] = e
	return nil
}

func (v *view) ListEnrollments(_ context.Context, userID generic.EntityID) ([]commerce.Enrollment, error) {
	var out []commerce.Enrollment
	for _, e := range v.st.enrollments {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) CreateCertificate(_ context.Context, c commerce.Certificate) error {
	if _, ok := v.st.certificates[c.VerificationCode]; ok {
		return duplicate("certificate", c.VerificationCode)
	}
	if v.st.certified[c.EnrollmentID] {
		return duplicate("certificate for enrollment", c.EnrollmentID)
	}
	for _, existing := range v.st.certificates {
		if existing.Number == c.Number {
			return duplicate("certificate number", c.Number)
		}
	}
	v.st.certificates[c.VerificationCode] = c
	v.st.certified[c.EnrollmentID] = true
	return nil
}

func (v *view) GetCertificateByCode(_ context.Context, code string) (*commerce.Certificate, error) {
	c, ok := v.st.certificates[code]
	if !ok {
		return nil, generic.NotFound("certificate", code)
	}
	return &c, nil
}

// ---- sales & fees ----

func (v *view) CreateSale(_ context.Context, s commerce.SportsSale) error {
	v.st.sales = append(v.st.sales, s)
	return nil
}

func (v *view) ListSales(_ context.Context, merchantID string, from, to time.Time) ([]commerce.SportsSale, error) {
	var out []commerce.SportsSale
	for _, s := range v.st.sales {
		if s.MerchantID != merchantID {
			continue
		}
		if !from.IsZero() && s.SoldAt.Before(from) {
			continue
		}
		if !to.IsZero() && !s.SoldAt.Before(to) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SoldAt.Before(out[j].SoldAt) })
	return out, nil
}

func (v *view) CreateMerchantFee(_ context.Context, f commerce.MerchantFee) error {
	v.st.fees = append(v.st.fees, f)
	return nil
}

func (v *view) ListMerchantFees(_ context.Context, merchantID string) ([]commerce.MerchantFee, error) {
	var out []commerce.MerchantFee
	for _, f := range v.st.fees {
		if f.MerchantID == merchantID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

// ---- revenue sharing ----

func keyOf(r settlement.RevenueSharing) sharingKey {
	return sharingKey{entityType: r.EntityType, entityID: r.EntityID, period: r.Period().String()}
}

func (v *view) CreateSharing(_ context.Context, r settlement.RevenueSharing) error {
	k := keyOf(r)
	if _, ok := v.st.sharingKey[k]; ok {
		return duplicate("settlement", string(r.EntityType)+"/"+r.EntityID+"/"+r.Period().String())
	}
	if _, ok := v.st.sharing[r.ID]; ok {
		return duplicate("settlement", r.ID)
	}
	v.st.sharing[r.ID] = r
	v.st.sharingKey[k] = r.ID
	return nil
}

func (v *view) UpdateSharing(_ context.Context, r settlement.RevenueSharing) error {
	if _, ok := v.st.sharing[r.ID]; !ok {
		return generic.NotFound("settlement", r.ID)
	}
	v.st.sharing[r.ID] = r
	return nil
}

func (v *view) GetSharing(_ context.Context, id string) (*settlement.RevenueSharing, error) {
	r, ok := v.st.sharing[id]
	if !ok {
		return nil, generic.NotFound("settlement", id)
	}
	return &r, nil
}

func (v *view) FindSharing(_ context.Context, entityType settlement.EntityType, entityID string, period generic.Period) (*settlement.RevenueSharing, error) {
	id, ok := v.st.sharingKey[sharingKey{entityType: entityType, entityID: entityID, period: period.String()}]
	if !ok {
		return nil, nil
	}
	r := v.st.sharing[id]
	return &r, nil
}

func (v *view) ListSharing(_ context.Context, filter settlement.Filter) ([]settlement.RevenueSharing, error) {
	var out []settlement.RevenueSharing
	for _, r := range v.st.sharing {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.PeriodStart.Equal(b.PeriodStart) {
			return a.PeriodStart.After(b.PeriodStart)
		}
		if a.EntityType != b.EntityType {
			return a.EntityType > b.EntityType
		}
		return a.EntityID < b.EntityID
	})
	return out, nil
}
