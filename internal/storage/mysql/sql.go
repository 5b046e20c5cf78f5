package mysql

const createClientStateSQL = `
CREATE TABLE IF NOT EXISTS client_state (
  state_key  VARCHAR(191) NOT NULL PRIMARY KEY,
  value      LONGTEXT     NOT NULL,
  updated_at TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
`

const getStateSQL = `SELECT value FROM client_state WHERE state_key = ?`

// Last write wins; there is no version column to compare against.
const putStateSQL = `
INSERT INTO client_state (state_key, value)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE
  value      = VALUES(value),
  updated_at = CURRENT_TIMESTAMP
`

const deleteStateSQL = `DELETE FROM client_state WHERE state_key = ?`
