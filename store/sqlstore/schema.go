package sqlstore

// schema is applied statement by statement on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		balance_version BIGINT NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,

	// Grants. amount is what remains of original_amount.
	`CREATE TABLE IF NOT EXISTS sport_coins (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		coin_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		valid_until TEXT,
		usage_category TEXT NOT NULL DEFAULT '',
		source_tx_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sport_coins_user ON sport_coins(user_id, coin_type, created_at)`,

	// Ledger (append-only)
	`CREATE TABLE IF NOT EXISTS coin_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		coin_type TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		related_type TEXT NOT NULL DEFAULT '',
		related_id TEXT NOT NULL DEFAULT '',
		effective_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_coin_transactions_user ON coin_transactions(user_id, coin_type, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_coin_transactions_related ON coin_transactions(related_type, related_id, effective_at)`,

	// One row per commit, also when no coins moved. Replays look here.
	`CREATE TABLE IF NOT EXISTS spend_commits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		related_type TEXT NOT NULL,
		related_id TEXT NOT NULL,
		order_ref TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		target_amount TEXT NOT NULL,
		government_amount TEXT NOT NULL,
		self_amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		refunded_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spend_commits_key ON spend_commits(user_id, related_type, related_id, order_ref)`,

	`CREATE TABLE IF NOT EXISTS merchants (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		sharing_percentage TEXT,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		teacher_id TEXT NOT NULL REFERENCES users(id),
		title TEXT NOT NULL,
		category TEXT NOT NULL,
		price TEXT NOT NULL,
		max_government_coin_amount TEXT,
		max_students INTEGER NOT NULL DEFAULT 0,
		current_students INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_courses_teacher ON courses(teacher_id)`,

	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL REFERENCES merchants(id),
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		price TEXT NOT NULL,
		stock_quantity INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_merchant ON products(merchant_id)`,

	`CREATE TABLE IF NOT EXISTS course_enrollments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		course_id TEXT NOT NULL REFERENCES courses(id),
		payment_amount TEXT NOT NULL,
		government_coin_used TEXT NOT NULL,
		self_coin_used TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		completion_status TEXT NOT NULL,
		certificate_issued BOOLEAN NOT NULL DEFAULT FALSE,
		commit_id TEXT NOT NULL DEFAULT '',
		enrolled_at TEXT NOT NULL,
		completed_at TEXT,
		updated_at TEXT NOT NULL,
		UNIQUE(user_id, course_id)
	)`,

	`CREATE TABLE IF NOT EXISTS certificates (
		id TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL UNIQUE REFERENCES course_enrollments(id),
		user_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		certificate_number TEXT NOT NULL UNIQUE,
		verification_code TEXT NOT NULL UNIQUE,
		is_valid BOOLEAN NOT NULL DEFAULT TRUE,
		issued_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sports_sales (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL REFERENCES merchants(id),
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		sold_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sports_sales_merchant ON sports_sales(merchant_id, sold_at)`,

	`CREATE TABLE IF NOT EXISTS merchant_fees (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL REFERENCES merchants(id),
		amount TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS revenue_sharing (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		total_revenue TEXT NOT NULL,
		sharing_percentage TEXT NOT NULL,
		sharing_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		settlement_date TEXT,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(entity_type, entity_id, period_start, period_end)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_revenue_sharing_status ON revenue_sharing(status)`,
}

// tables in delete order (children first).
var tables = []string{
	"certificates",
	"course_enrollments",
	"sports_sales",
	"merchant_fees",
	"products",
	"courses",
	"merchants",
	"revenue_sharing",
	"spend_commits",
	"coin_transactions",
	"sport_coins",
	"users",
}
