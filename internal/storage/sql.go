package storage

import (
	_ "embed"
)

const (
	insertSessionSQL = `
INSERT INTO sessions (id,
                      start_time,
                      csv_path,
                      config)
VALUES (?, ?, ?, ?)`

	finishSessionSQL = `
UPDATE sessions
SET end_time  = ?,
    row_count = ?
WHERE id = ?`

	selectSessionSQL = `
SELECT id,
       start_time,
       end_time,
       csv_path,
       row_count,
       config
FROM sessions
WHERE id = ?`

	selectSessionsSQL = `
SELECT id,
       start_time,
       end_time,
       csv_path,
       row_count,
       config
FROM sessions
ORDER BY start_time`

	insertReadingSQL = `
INSERT INTO readings (session_id,
                      timestamp,
                      latitude,
                      longitude,
                      accuracy,
                      sim1_operator,
                      sim1_dbm,
                      sim2_operator,
                      sim2_dbm)
VALUES `

	selectReadingsSQL = `
SELECT timestamp,
       latitude,
       longitude,
       accuracy,
       sim1_operator,
       sim1_dbm,
       sim2_operator,
       sim2_dbm
FROM readings
WHERE session_id = ?
  AND timestamp BETWEEN ? AND ?
ORDER BY timestamp, id`
)

//go:embed schema.sql
var initSchemaSQL string
