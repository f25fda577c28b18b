package repository

const sqliteSchema = `
-- Venue read model seeded through the API
CREATE TABLE IF NOT EXISTS venues (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  category TEXT NOT NULL DEFAULT '',
  lat REAL,
  lng REAL
);

-- Member profiles used by the scorer
CREATE TABLE IF NOT EXISTS profiles (
  id TEXT PRIMARY KEY,
  display_name TEXT NOT NULL DEFAULT '',
  interests TEXT NOT NULL DEFAULT '[]',  -- JSON array of categories
  friends TEXT NOT NULL DEFAULT '[]',    -- JSON array of user ids
  lat REAL,
  lng REAL
);

-- Interest records; counts are always derived from this table
CREATE TABLE IF NOT EXISTS interests (
  user_id TEXT NOT NULL,
  venue_id TEXT NOT NULL,
  created_at INTEGER NOT NULL,           -- unix nanos
  PRIMARY KEY (user_id, venue_id)
);

CREATE INDEX IF NOT EXISTS idx_interests_venue ON interests(venue_id, created_at);

-- Action items; episode_key holds the venue id while active and NULL after
CREATE TABLE IF NOT EXISTS action_items (
  id TEXT PRIMARY KEY,
  venue_id TEXT NOT NULL,
  initiator_id TEXT NOT NULL,
  status TEXT NOT NULL,
  episode_key TEXT UNIQUE,
  chat_id TEXT NOT NULL DEFAULT '',
  chat_attempt_at INTEGER,               -- lease of the chat creation in flight
  created_at INTEGER NOT NULL,
  formed_at INTEGER,
  exhausted_at INTEGER,
  dismissed_at INTEGER,
  version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_action_items_status ON action_items(status, created_at);

-- Frozen snapshot; status is NULL for the initiator, who has no confirmation
CREATE TABLE IF NOT EXISTS action_item_members (
  action_item_id TEXT NOT NULL REFERENCES action_items(id),
  user_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  status TEXT,
  responded_at INTEGER,
  PRIMARY KEY (action_item_id, user_id)
);
`
