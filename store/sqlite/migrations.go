package sqlite

type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations. Versions are
// sequential from 1; each one records itself in schema_version.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

-- Reward catalog
CREATE TABLE IF NOT EXISTS rewards (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	description   TEXT NOT NULL DEFAULT '',
	icon          TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL,
	rarity        TEXT NOT NULL,
	points        INTEGER NOT NULL DEFAULT 0,
	color         TEXT NOT NULL DEFAULT '',
	active        INTEGER NOT NULL DEFAULT 1,
	criteria_json TEXT NOT NULL DEFAULT '{}',
	times_earned  INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rewards_points ON rewards(points, name);

-- Grants: one row per (user, reward, context)
CREATE TABLE IF NOT EXISTS grants (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	reward_id     TEXT NOT NULL REFERENCES rewards(id),
	objective_id  TEXT NOT NULL DEFAULT '',
	checkpoint_id TEXT NOT NULL DEFAULT '',
	action_id     TEXT NOT NULL DEFAULT '',
	occurrence    TEXT NOT NULL DEFAULT '',
	context_key   TEXT NOT NULL,
	streak_count  INTEGER NOT NULL DEFAULT 0,
	context_json  TEXT NOT NULL DEFAULT '{}',
	earned_at     TEXT NOT NULL,
	notified      INTEGER NOT NULL DEFAULT 0,
	UNIQUE(user_id, reward_id, context_key)
);

CREATE INDEX IF NOT EXISTS idx_grants_user_earned ON grants(user_id, earned_at DESC);
CREATE INDEX IF NOT EXISTS idx_grants_earned ON grants(earned_at DESC);
CREATE INDEX IF NOT EXISTS idx_grants_unnotified ON grants(notified) WHERE notified = 0;

-- Goal hierarchy
CREATE TABLE IF NOT EXISTS objectives (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	target_date  TEXT NOT NULL DEFAULT '',
	completed_at TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_objectives_user ON objectives(user_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	objective_id TEXT NOT NULL REFERENCES objectives(id) ON DELETE CASCADE,
	title        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	target_date  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_user ON checkpoints(user_id);

CREATE TABLE IF NOT EXISTS actions (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	checkpoint_id      TEXT NOT NULL REFERENCES checkpoints(id) ON DELETE CASCADE,
	title              TEXT NOT NULL DEFAULT '',
	frequency          TEXT NOT NULL,
	status             TEXT NOT NULL,
	completion_history TEXT NOT NULL DEFAULT '[]',
	last_completed_at  TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_actions_user ON actions(user_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
