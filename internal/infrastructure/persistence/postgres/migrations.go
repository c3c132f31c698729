package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: STUDENTS AND SUBMISSIONS
// ══════════════════════════════════════════════════════════════════════════════

const schemaStudentsUp = `
-- Migration: Create students and submissions
-- Version: 001

CREATE TABLE IF NOT EXISTS students (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    username VARCHAR(64) NOT NULL UNIQUE,
    cf_handle VARCHAR(50),
    cf_rating INTEGER,
    cf_max_rating INTEGER,
    cf_rating_refreshed_at TIMESTAMP WITH TIME ZONE,
    cf_last_synced_unix BIGINT NOT NULL DEFAULT 0,
    ac_handle VARCHAR(50),
    ac_rating INTEGER,
    ac_max_rating INTEGER,
    ac_rating_refreshed_at TIMESTAMP WITH TIME ZONE,
    ac_last_synced_unix BIGINT NOT NULL DEFAULT 0,
    excluded BOOLEAN NOT NULL DEFAULT FALSE,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_students_cf_handle
    ON students(LOWER(cf_handle)) WHERE cf_handle IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_students_ac_handle
    ON students(LOWER(ac_handle)) WHERE ac_handle IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_students_active ON students(active) WHERE active;

CREATE TABLE IF NOT EXISTS submissions (
    id BIGSERIAL PRIMARY KEY,
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    platform VARCHAR(20) NOT NULL,
    external_id VARCHAR(64) NOT NULL,
    contest_id VARCHAR(64) NOT NULL DEFAULT '',
    problem_index VARCHAR(16) NOT NULL DEFAULT '',
    problem_name VARCHAR(255) NOT NULL DEFAULT '',
    problem_url TEXT NOT NULL DEFAULT '',
    verdict VARCHAR(20) NOT NULL,
    submitted_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_platform CHECK (platform IN ('codeforces', 'atcoder')),
    CONSTRAINT valid_verdict CHECK (verdict IN ('accepted', 'rejected')),

    -- Overlapping sync windows and replays dedupe here
    CONSTRAINT uq_submissions_platform_external UNIQUE (platform, external_id)
);

CREATE INDEX IF NOT EXISTS idx_submissions_student
    ON submissions(student_id, platform, submitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_submissions_url
    ON submissions(problem_url) WHERE problem_url != '';
`

const schemaStudentsDown = `
DROP TABLE IF EXISTS submissions;
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: RATING CACHE, FETCH QUEUE, CONTESTS
// ══════════════════════════════════════════════════════════════════════════════

const schemaCatalogUp = `
-- Migration: Create rating cache, fetch queue, contests
-- Version: 002

CREATE TABLE IF NOT EXISTS problem_rating_cache (
    problem_url TEXT PRIMARY KEY,
    platform VARCHAR(20) NOT NULL,
    external_id VARCHAR(64) NOT NULL DEFAULT '',
    aggregator_rating INTEGER,
    native_rating INTEGER,
    effective_rating INTEGER,
    rating_source VARCHAR(20) NOT NULL DEFAULT 'none',
    status VARCHAR(20) NOT NULL,
    contest_key VARCHAR(64) NOT NULL DEFAULT '',
    problem_name VARCHAR(255) NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    next_retry_at TIMESTAMP WITH TIME ZONE,
    fetched_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_cache_platform CHECK (platform IN ('codeforces', 'atcoder')),
    CONSTRAINT valid_cache_status
        CHECK (status IN ('ok', 'not_found', 'temp_fail', 'rate_limited', 'error')),
    CONSTRAINT valid_rating_source CHECK (rating_source IN ('none', 'aggregator', 'native'))
);

CREATE INDEX IF NOT EXISTS idx_rating_cache_status ON problem_rating_cache(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_rating_cache_external
    ON problem_rating_cache(external_id) WHERE external_id != '';
CREATE INDEX IF NOT EXISTS idx_rating_cache_corrupt
    ON problem_rating_cache(updated_at) WHERE status = 'ok' AND effective_rating IS NULL;

CREATE TABLE IF NOT EXISTS rating_fetch_queue (
    id BIGSERIAL PRIMARY KEY,
    platform VARCHAR(20) NOT NULL,
    problem_url TEXT NOT NULL,
    name_hint VARCHAR(255) NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 10,
    state VARCHAR(20) NOT NULL DEFAULT 'queued',
    attempts INTEGER NOT NULL DEFAULT 0,
    not_before TIMESTAMP WITH TIME ZONE,
    enqueued_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    claimed_at TIMESTAMP WITH TIME ZONE,
    last_error TEXT NOT NULL DEFAULT '',

    CONSTRAINT valid_queue_state CHECK (state IN ('queued', 'running', 'done', 'failed')),

    -- At most one pending request per problem
    CONSTRAINT uq_fetch_queue_platform_url UNIQUE (platform, problem_url)
);

CREATE INDEX IF NOT EXISTS idx_fetch_queue_claim
    ON rating_fetch_queue(priority, enqueued_at) WHERE state = 'queued';

CREATE TABLE IF NOT EXISTS contests (
    platform VARCHAR(20) NOT NULL,
    contest_id VARCHAR(64) NOT NULL,
    name VARCHAR(255) NOT NULL,
    kind VARCHAR(20) NOT NULL DEFAULT 'other',
    start_time TIMESTAMP WITH TIME ZONE,
    duration_seconds BIGINT NOT NULL DEFAULT 0,
    sync_state VARCHAR(20) NOT NULL DEFAULT 'pending',
    rating_summary VARCHAR(20) NOT NULL DEFAULT 'none',
    synced_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (platform, contest_id),
    CONSTRAINT valid_sync_state CHECK (sync_state IN ('pending', 'partial', 'done')),
    CONSTRAINT valid_rating_summary CHECK (rating_summary IN ('none', 'partial', 'full'))
);

CREATE INDEX IF NOT EXISTS idx_contests_start ON contests(platform, start_time);
CREATE INDEX IF NOT EXISTS idx_contests_needing_sync
    ON contests(platform, start_time DESC) WHERE sync_state != 'done';

CREATE TABLE IF NOT EXISTS contest_problems (
    id BIGSERIAL PRIMARY KEY,
    platform VARCHAR(20) NOT NULL,
    contest_id VARCHAR(64) NOT NULL,
    index_label VARCHAR(16) NOT NULL,
    name VARCHAR(255) NOT NULL DEFAULT '',
    problem_url TEXT NOT NULL,
    native_rating INTEGER,
    rating_status VARCHAR(20) NOT NULL DEFAULT 'missing',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_requested_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_problem_rating_status
        CHECK (rating_status IN ('missing', 'queued', 'temp_fail', 'rate_limited', 'ok', 'not_found')),
    CONSTRAINT uq_contest_problem UNIQUE (platform, contest_id, index_label)
);

CREATE INDEX IF NOT EXISTS idx_contest_problems_url ON contest_problems(problem_url);
CREATE INDEX IF NOT EXISTS idx_contest_problems_backfill
    ON contest_problems(rating_status, attempts, last_requested_at);
CREATE INDEX IF NOT EXISTS idx_contest_problems_name
    ON contest_problems(platform, LOWER(name));
`

const schemaCatalogDown = `
DROP TABLE IF EXISTS contest_problems;
DROP TABLE IF EXISTS contests;
DROP TABLE IF EXISTS rating_fetch_queue;
DROP TABLE IF EXISTS problem_rating_cache;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: SCORE EVENTS, AGGREGATES, SNAPSHOTS
// ══════════════════════════════════════════════════════════════════════════════

const schemaScoringUp = `
-- Migration: Create score events, aggregates, ranking snapshots
-- Version: 003

CREATE TABLE IF NOT EXISTS score_events (
    id BIGSERIAL PRIMARY KEY,
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    platform VARCHAR(20) NOT NULL,
    problem_url TEXT NOT NULL,
    raw_rating INTEGER,
    rating_used_cf_equiv INTEGER,
    points_cf_raw INTEGER NOT NULL DEFAULT 0,
    points_ac_raw INTEGER NOT NULL DEFAULT 0,
    points_general_norm INTEGER NOT NULL DEFAULT 0,
    points_general_cf_equiv INTEGER NOT NULL DEFAULT 0,
    in_contest BOOLEAN NOT NULL DEFAULT FALSE,
    bonus_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    policy_version VARCHAR(20) NOT NULL DEFAULT 'linear_v2',
    solved_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    -- First accepted solve is the only one that scores
    CONSTRAINT uq_score_event UNIQUE (student_id, platform, problem_url)
);

CREATE INDEX IF NOT EXISTS idx_score_events_pending
    ON score_events(platform, problem_url) WHERE raw_rating IS NULL;
CREATE INDEX IF NOT EXISTS idx_score_events_student_solved
    ON score_events(student_id, solved_at DESC);
CREATE INDEX IF NOT EXISTS idx_score_events_solved ON score_events(solved_at);

CREATE TABLE IF NOT EXISTS user_score_aggregates (
    student_id UUID PRIMARY KEY REFERENCES students(id) ON DELETE CASCADE,
    total_cf_raw INTEGER NOT NULL DEFAULT 0,
    total_ac_raw INTEGER NOT NULL DEFAULT 0,
    total_general_norm INTEGER NOT NULL DEFAULT 0,
    total_general_cf_equiv INTEGER NOT NULL DEFAULT 0,
    w7_cf_raw INTEGER NOT NULL DEFAULT 0,
    w7_ac_raw INTEGER NOT NULL DEFAULT 0,
    w7_general_norm INTEGER NOT NULL DEFAULT 0,
    w7_general_cf_equiv INTEGER NOT NULL DEFAULT 0,
    w30_cf_raw INTEGER NOT NULL DEFAULT 0,
    w30_ac_raw INTEGER NOT NULL DEFAULT 0,
    w30_general_norm INTEGER NOT NULL DEFAULT 0,
    w30_general_cf_equiv INTEGER NOT NULL DEFAULT 0,
    season_cf_raw INTEGER NOT NULL DEFAULT 0,
    season_ac_raw INTEGER NOT NULL DEFAULT 0,
    season_general_norm INTEGER NOT NULL DEFAULT 0,
    season_general_cf_equiv INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS rank_snapshots (
    id BIGSERIAL PRIMARY KEY,
    mode VARCHAR(20) NOT NULL,
    category VARCHAR(20) NOT NULL,
    time_window VARCHAR(20) NOT NULL,
    scope VARCHAR(20) NOT NULL DEFAULT 'global',
    taken_at TIMESTAMP WITH TIME ZONE NOT NULL,
    student_id UUID NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    username VARCHAR(64) NOT NULL,
    rank INTEGER NOT NULL,
    points INTEGER NOT NULL,

    CONSTRAINT uq_rank_snapshot UNIQUE (mode, category, time_window, scope, taken_at, student_id)
);

CREATE INDEX IF NOT EXISTS idx_rank_snapshots_key
    ON rank_snapshots(mode, category, time_window, scope, taken_at DESC);

CREATE TABLE IF NOT EXISTS conversion_snapshots (
    id BIGSERIAL PRIMARY KEY,
    direction VARCHAR(20) NOT NULL DEFAULT 'ac_to_cf',
    sample_count INTEGER NOT NULL,
    slope DOUBLE PRECISION NOT NULL,
    intercept DOUBLE PRECISION NOT NULL,
    taken_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`

const schemaScoringDown = `
DROP TABLE IF EXISTS conversion_snapshots;
DROP TABLE IF EXISTS rank_snapshots;
DROP TABLE IF EXISTS user_score_aggregates;
DROP TABLE IF EXISTS score_events;
`
