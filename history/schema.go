package history

// Schema is the DDL for the history tables. Timestamps are unix
// milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id  TEXT PRIMARY KEY,
    page_url    TEXT NOT NULL DEFAULT '',
    started_at  INTEGER NOT NULL,
    ended_at    INTEGER,
    end_reason  TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);

CREATE TABLE IF NOT EXISTS export_events (
    event_id    TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL DEFAULT '',
    page_url    TEXT NOT NULL DEFAULT '',
    filename    TEXT NOT NULL DEFAULT '',
    bytes       INTEGER NOT NULL DEFAULT 0,
    width       INTEGER NOT NULL DEFAULT 0,
    height      INTEGER NOT NULL DEFAULT 0,
    success     INTEGER NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    elapsed_ms  INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_export_events_time ON export_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_export_events_session ON export_events(session_id);

CREATE TABLE IF NOT EXISTS delivery_failures (
    export_id   TEXT NOT NULL,
    filename    TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_delivery_failures_time ON delivery_failures(created_at DESC);
`
