package recorder

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    start_time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    end_time   TIMESTAMP,
    result     TEXT,
    config     TEXT
);

CREATE TABLE IF NOT EXISTS events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT    NOT NULL REFERENCES sessions (id),
    tick       INTEGER NOT NULL,
    timestamp  TIMESTAMP NOT NULL,
    kind       TEXT    NOT NULL,
    stage      TEXT,
    error      TEXT,
    behind_ns  INTEGER,
    lifecycle  TEXT,
    mode       TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events (session_id, tick);

CREATE TABLE IF NOT EXISTS samples (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  TEXT    NOT NULL REFERENCES sessions (id),
    seq         INTEGER NOT NULL,
    sim_time_ns INTEGER NOT NULL,
    mode        TEXT    NOT NULL,
    roll        REAL,
    pitch       REAL,
    yaw         REAL,
    latitude    REAL,
    longitude   REAL,
    altitude    REAL,
    airspeed    REAL,
    heading     REAL,
    fuel        REAL,
    rpm         REAL,
    out_roll     REAL,
    out_pitch    REAL,
    out_yaw      REAL,
    out_throttle REAL,
    armed       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_samples_session ON samples (session_id, seq);`

	insertSessionSQL = `
INSERT INTO sessions (id,
                      config)
VALUES (?, ?)`

	finishSessionSQL = `
UPDATE sessions
SET end_time = CURRENT_TIMESTAMP,
    result   = ?
WHERE id = ?`

	insertEventSQL = `
INSERT INTO events (session_id,
                    tick,
                    timestamp,
                    kind,
                    stage,
                    error,
                    behind_ns,
                    lifecycle,
                    mode)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertSampleSQL = `
INSERT INTO samples (session_id,
                     seq,
                     sim_time_ns,
                     mode,
                     roll,
                     pitch,
                     yaw,
                     latitude,
                     longitude,
                     altitude,
                     airspeed,
                     heading,
                     fuel,
                     rpm,
                     out_roll,
                     out_pitch,
                     out_yaw,
                     out_throttle,
                     armed)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectEventsSQL = `
SELECT tick,
       kind,
       COALESCE(stage, ''),
       COALESCE(error, ''),
       COALESCE(behind_ns, 0),
       COALESCE(lifecycle, ''),
       COALESCE(mode, '')
FROM events
WHERE session_id = ?
ORDER BY id`

	selectSamplesSQL = `
SELECT seq,
       sim_time_ns,
       mode,
       roll,
       pitch,
       yaw,
       altitude,
       airspeed,
       out_throttle,
       armed
FROM samples
WHERE session_id = ?
ORDER BY seq`

	selectSessionResultSQL = `
SELECT COALESCE(result, '')
FROM sessions
WHERE id = ?`

	selectSessionsSQL = `
SELECT id,
       COALESCE(result, '')
FROM sessions
ORDER BY start_time, id`
)
