// Package ledger keeps the per-study metadata and the batch operation
// ledger: which samples and files a study knows, which files are indexed,
// and every load or remove attempt with its status history. All mutations
// run under a per-study lock.
package ledger

// CreateStudiesTableSQL creates the study table.
const CreateStudiesTableSQL = `
CREATE TABLE IF NOT EXISTS studies (
    study_id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateSamplesTableSQL maps sample names to study-scoped sample IDs.
const CreateSamplesTableSQL = `
CREATE TABLE IF NOT EXISTS samples (
    study_id INTEGER NOT NULL,
    sample_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    PRIMARY KEY (study_id, sample_id),
    UNIQUE (study_id, name),
    FOREIGN KEY (study_id) REFERENCES studies(study_id)
)`

// CreateFilesTableSQL tracks registered files and whether they are indexed.
const CreateFilesTableSQL = `
CREATE TABLE IF NOT EXISTS files (
    study_id INTEGER NOT NULL,
    file_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    indexed INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (study_id, file_id),
    FOREIGN KEY (study_id) REFERENCES studies(study_id)
)`

// CreateFileSamplesTableSQL keeps the sample column order of each file.
const CreateFileSamplesTableSQL = `
CREATE TABLE IF NOT EXISTS file_samples (
    study_id INTEGER NOT NULL,
    file_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    sample_id INTEGER NOT NULL,
    PRIMARY KEY (study_id, file_id, position)
)`

// CreateBatchOperationsTableSQL holds one row per batch operation. The
// timestamp is a per-study sequence number.
const CreateBatchOperationsTableSQL = `
CREATE TABLE IF NOT EXISTS batch_operations (
    study_id INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    file_ids TEXT NOT NULL,
    fingerprint INTEGER NOT NULL,
    PRIMARY KEY (study_id, timestamp)
)`

// CreateBatchStatusTableSQL is the append-only status history.
const CreateBatchStatusTableSQL = `
CREATE TABLE IF NOT EXISTS batch_status (
    study_id INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    seq INTEGER NOT NULL,
    status TEXT NOT NULL,
    changed_at INTEGER NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (study_id, timestamp, seq)
)`

// CreateStudyLocksTableSQL holds the cross-process study lock with a lease.
const CreateStudyLocksTableSQL = `
CREATE TABLE IF NOT EXISTS study_locks (
    study_id INTEGER PRIMARY KEY,
    owner TEXT NOT NULL,
    expires_at INTEGER NOT NULL
)`

// AllSchemaSQL returns the statements creating the ledger schema, in order.
func AllSchemaSQL() []string {
	return []string{
		CreateStudiesTableSQL,
		CreateSamplesTableSQL,
		CreateFilesTableSQL,
		CreateFileSamplesTableSQL,
		CreateBatchOperationsTableSQL,
		CreateBatchStatusTableSQL,
		CreateStudyLocksTableSQL,
	}
}
