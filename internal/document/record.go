package document

import (
	"encoding/json"
	"fmt"
	"time"
)

// CurrentSchemaVersion is the payload schema version written by this build.
// Bump this when adding a payload migration to Migrate.
const CurrentSchemaVersion = 2

// Collection names one logical group of persisted records.
type Collection string

const (
	CollectionDocuments Collection = "documents"
	CollectionProgress  Collection = "progress"
	CollectionSession   Collection = "session"
)

// SessionRecordID is the single record id used in CollectionSession.
const SessionRecordID = "current"

// Key addresses one persisted record for an owner.
type Key struct {
	Collection Collection `json:"collection"`
	ID         string     `json:"id"`
}

func (k Key) String() string {
	return string(k.Collection) + "/" + k.ID
}

// DocumentKey returns the key of a document record.
func DocumentKey(id string) Key { return Key{Collection: CollectionDocuments, ID: id} }

// ProgressKey returns the key of the progress record owned by a document.
func ProgressKey(documentID string) Key { return Key{Collection: CollectionProgress, ID: documentID} }

// SessionKey returns the key of the session prefs record.
func SessionKey() Key { return Key{Collection: CollectionSession, ID: SessionRecordID} }

// Record is the versioned envelope written atomically per key. Every write
// replaces the whole payload.
type Record struct {
	Key
	SchemaVersion int             `json:"schema_version"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewRecord encodes v as the payload of a current-version record.
// UpdatedAt is kept at microsecond precision so every backend stores it exactly.
func NewRecord(key Key, v any, updatedAt time.Time) (Record, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s: %w", key, err)
	}
	return Record{
		Key:           key,
		SchemaVersion: CurrentSchemaVersion,
		UpdatedAt:     updatedAt.UTC().Truncate(time.Microsecond),
		Payload:       payload,
	}, nil
}

// IsZero reports whether r is the empty sentinel.
func (r Record) IsZero() bool {
	return r.ID == "" && len(r.Payload) == 0
}

// Decode migrates r to the current schema and unmarshals the payload into v.
func (r Record) Decode(v any) error {
	migrated, err := Migrate(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(migrated.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", r.Key, err)
	}
	return nil
}

// Migrate upgrades a record payload to CurrentSchemaVersion. Migrations are
// additive: older payloads gain fields, nothing is removed.
func Migrate(r Record) (Record, error) {
	if r.SchemaVersion > CurrentSchemaVersion {
		return r, fmt.Errorf("record %s has schema version %d, newer than supported %d", r.Key, r.SchemaVersion, CurrentSchemaVersion)
	}
	if r.SchemaVersion == CurrentSchemaVersion {
		return r, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(r.Payload, &fields); err != nil {
		return r, fmt.Errorf("decode %s: %w", r.Key, err)
	}

	// Version 0/1 -> 2: documents gain metadata, progress gains status.
	if r.SchemaVersion < 2 {
		switch r.Collection {
		case CollectionDocuments:
			if _, ok := fields["metadata"]; !ok {
				content, _ := fields["content"].(string)
				fields["metadata"] = Measure(content)
			}
		case CollectionProgress:
			if s, _ := fields["status"].(string); s == "" {
				fields["status"] = StatusActive
			}
			if fields["section_data"] == nil {
				fields["section_data"] = map[string]any{}
			}
		}
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return r, fmt.Errorf("encode %s: %w", r.Key, err)
	}
	r.Payload = payload
	r.SchemaVersion = CurrentSchemaVersion
	return r, nil
}
