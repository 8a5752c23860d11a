package store

// Schema creates every table Sentinel needs. Timestamps are unix
// milliseconds; snapshot dates are YYYY-MM-DD text.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	windsor_api_key TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT 'UTC',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS workspaces (
	team_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	team_name TEXT NOT NULL DEFAULT '',
	access_token TEXT NOT NULL,
	bot_user_id TEXT NOT NULL DEFAULT '',
	owner_slack_user_id TEXT NOT NULL DEFAULT '',
	installed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workspaces_user ON workspaces(user_id);

CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	slack_channel_id TEXT NOT NULL DEFAULT '',
	windsor_account_id TEXT NOT NULL DEFAULT '',
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clients_user ON clients(user_id);
CREATE INDEX IF NOT EXISTS idx_clients_channel ON clients(slack_channel_id);

CREATE TABLE IF NOT EXISTS campaigns (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	external_id TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (client_id, external_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	date TEXT NOT NULL,
	spend REAL NOT NULL DEFAULT 0,
	impressions REAL NOT NULL DEFAULT 0,
	clicks REAL NOT NULL DEFAULT 0,
	ctr REAL NOT NULL DEFAULT 0,
	cpc REAL NOT NULL DEFAULT 0,
	conversions REAL NOT NULL DEFAULT 0,
	conversion_rate REAL NOT NULL DEFAULT 0,
	roas REAL NOT NULL DEFAULT 0,
	reach REAL NOT NULL DEFAULT 0,
	frequency REAL NOT NULL DEFAULT 0,
	fetched_at INTEGER NOT NULL,
	PRIMARY KEY (campaign_id, date)
);

CREATE TABLE IF NOT EXISTS skills (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	prompt_template TEXT NOT NULL,
	parameters TEXT NOT NULL DEFAULT '[]',
	category TEXT NOT NULL,
	origin TEXT NOT NULL DEFAULT 'custom',
	created_by TEXT,
	active INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_skills_name ON skills(name, origin);

CREATE TABLE IF NOT EXISTS schedules (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	skill_id TEXT NOT NULL,
	cron_expression TEXT NOT NULL,
	timezone TEXT NOT NULL DEFAULT 'UTC',
	active INTEGER NOT NULL DEFAULT 1,
	last_run_at INTEGER,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_active ON schedules(active);

CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	campaign_id TEXT NOT NULL,
	skill_id TEXT NOT NULL,
	content TEXT NOT NULL,
	triggered_by TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_client ON reports(client_id, created_at);

CREATE TABLE IF NOT EXISTS channel_contexts (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	team_id TEXT NOT NULL DEFAULT '',
	client_id TEXT,
	history TEXT NOT NULL DEFAULT '[]',
	version INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL,
	UNIQUE (channel_id, team_id)
);
CREATE INDEX IF NOT EXISTS idx_channel_contexts_client ON channel_contexts(client_id);
`
