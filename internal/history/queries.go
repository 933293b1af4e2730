package history

const querySchema = `
CREATE TABLE IF NOT EXISTS runs (
    id                 UUID PRIMARY KEY,
    trigger_source     TEXT NOT NULL,
    started_at         TIMESTAMPTZ NOT NULL,
    finished_at        TIMESTAMPTZ,
    status             TEXT NOT NULL,
    phase              TEXT NOT NULL DEFAULT '',
    producer_exit_code INTEGER NOT NULL DEFAULT 0,
    producer_output    TEXT NOT NULL DEFAULT '',
    artifact_jobs      INTEGER NOT NULL DEFAULT 0,
    artifact_digest    TEXT NOT NULL DEFAULT '',
    commit_sha         TEXT NOT NULL DEFAULT '',
    commit_message     TEXT NOT NULL DEFAULT '',
    error              TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at DESC);
`

const queryInsertRun = `
INSERT INTO runs (id, trigger_source, started_at, status)
VALUES ($1, $2, $3, $4)
`

const queryFinalizeRun = `
UPDATE runs
SET status = $1,
    phase = $2,
    finished_at = $3,
    producer_exit_code = $4,
    producer_output = $5,
    artifact_jobs = $6,
    artifact_digest = $7,
    commit_sha = $8,
    commit_message = $9,
    error = $10
WHERE id = $11
  AND status NOT IN ('pushed', 'no_change', 'failed_produce', 'failed_commit', 'failed_push')
`

const queryInsertTerminalRun = `
INSERT INTO runs (id, trigger_source, started_at, finished_at, status, phase,
    producer_exit_code, producer_output, artifact_jobs, artifact_digest,
    commit_sha, commit_message, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

const queryGetRunStatus = `
SELECT status FROM runs WHERE id = $1
`

const runColumns = `id, trigger_source, started_at, finished_at, status, phase,
    producer_exit_code, producer_output, artifact_jobs, artifact_digest,
    commit_sha, commit_message, error`

const queryLatestRun = `
SELECT ` + runColumns + `
FROM runs
WHERE status IN ('pushed', 'no_change', 'failed_produce', 'failed_commit', 'failed_push')
ORDER BY started_at DESC
LIMIT 1
`

const queryListRuns = `
SELECT ` + runColumns + `
FROM runs
ORDER BY started_at DESC
LIMIT $1 OFFSET $2
`

const queryGetRun = `
SELECT ` + runColumns + `
FROM runs
WHERE id = $1
`

const queryOrphanRuns = `
SELECT ` + runColumns + `
FROM runs
WHERE status NOT IN ('pushed', 'no_change', 'failed_produce', 'failed_commit', 'failed_push')
  AND started_at < $1
ORDER BY started_at ASC
LIMIT $2
`
