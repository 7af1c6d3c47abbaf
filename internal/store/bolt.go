package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/opsignal/responder/internal/models"
)

var (
	bucketSignals      = []byte("signals")
	bucketIncidents    = []byte("incidents")
	bucketDecisions    = []byte("decisions")
	bucketActions      = []byte("actions")
	bucketFingerprints = []byte("fingerprints")
)

// BoltStore implements Store using bbolt. Entities are JSON-encoded values;
// decisions and actions use incidentID-prefixed keys so per-incident listing
// is a cursor prefix scan.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSignals,
			bucketIncidents,
			bucketDecisions,
			bucketActions,
			bucketFingerprints,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) CreateSignal(ctx context.Context, sig *models.Signal) error {
	return s.put(bucketSignals, []byte(sig.ID), sig)
}

func (s *BoltStore) UpdateSignal(ctx context.Context, sig *models.Signal) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSignals)
		if b.Get([]byte(sig.ID)) == nil {
			return fmt.Errorf("signal %s: %w", sig.ID, models.ErrNotFound)
		}
		data, err := json.Marshal(sig)
		if err != nil {
			return err
		}
		return b.Put([]byte(sig.ID), data)
	})
}

func (s *BoltStore) GetSignal(ctx context.Context, id string) (*models.Signal, error) {
	var sig models.Signal
	if err := s.get(bucketSignals, []byte(id), &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}

func (s *BoltStore) ListSignalsByIncident(ctx context.Context, incidentID string) ([]*models.Signal, error) {
	var signals []*models.Signal
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSignals).ForEach(func(k, v []byte) error {
			var sig models.Signal
			if err := json.Unmarshal(v, &sig); err != nil {
				return err
			}
			if sig.IncidentID == incidentID {
				signals = append(signals, &sig)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(signals, func(i, j int) bool {
		return signals[i].DetectedAt.Before(signals[j].DetectedAt)
	})
	return signals, nil
}

func (s *BoltStore) CreateIncident(ctx context.Context, inc *models.Incident) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(inc)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketIncidents).Put([]byte(inc.ID), data); err != nil {
			return err
		}
		if inc.Fingerprint != "" && !models.TerminalStatus(inc.Status) {
			return tx.Bucket(bucketFingerprints).Put([]byte(inc.Fingerprint), []byte(inc.ID))
		}
		return nil
	})
}

func (s *BoltStore) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIncidents)
		if b.Get([]byte(inc.ID)) == nil {
			return fmt.Errorf("incident %s: %w", inc.ID, models.ErrNotFound)
		}
		data, err := json.Marshal(inc)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(inc.ID), data); err != nil {
			return err
		}
		// Terminal incidents stop matching new signals: drop the index entry
		// so the next signal for this fingerprint opens a fresh incident.
		fps := tx.Bucket(bucketFingerprints)
		if models.TerminalStatus(inc.Status) {
			if current := fps.Get([]byte(inc.Fingerprint)); bytes.Equal(current, []byte(inc.ID)) {
				return fps.Delete([]byte(inc.Fingerprint))
			}
		}
		return nil
	})
}

func (s *BoltStore) AddRelatedIncident(ctx context.Context, incidentID, relatedID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIncidents)
		data := b.Get([]byte(incidentID))
		if data == nil {
			return fmt.Errorf("incident %s: %w", incidentID, models.ErrNotFound)
		}
		var inc models.Incident
		if err := json.Unmarshal(data, &inc); err != nil {
			return err
		}
		inc.AddRelated(relatedID)
		updated, err := json.Marshal(&inc)
		if err != nil {
			return err
		}
		return b.Put([]byte(incidentID), updated)
	})
}

func (s *BoltStore) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	var inc models.Incident
	if err := s.get(bucketIncidents, []byte(id), &inc); err != nil {
		return nil, err
	}
	return &inc, nil
}

func (s *BoltStore) ListIncidents(ctx context.Context, filter models.IncidentFilter) ([]*models.Incident, error) {
	var incidents []*models.Incident
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIncidents).ForEach(func(k, v []byte) error {
			var inc models.Incident
			if err := json.Unmarshal(v, &inc); err != nil {
				return err
			}
			if filter.Matches(&inc) {
				incidents = append(incidents, &inc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Newest first, id as tiebreaker for stable output.
	sort.Slice(incidents, func(i, j int) bool {
		if !incidents[i].DetectedAt.Equal(incidents[j].DetectedAt) {
			return incidents[i].DetectedAt.After(incidents[j].DetectedAt)
		}
		return incidents[i].ID < incidents[j].ID
	})
	if filter.Limit > 0 && len(incidents) > filter.Limit {
		incidents = incidents[:filter.Limit]
	}
	return incidents, nil
}

func (s *BoltStore) OpenIncidentByFingerprint(ctx context.Context, fingerprint string) (*models.Incident, error) {
	var inc *models.Incident
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketFingerprints).Get([]byte(fingerprint))
		if id == nil {
			return fmt.Errorf("fingerprint %s: %w", fingerprint, models.ErrNotFound)
		}
		data := tx.Bucket(bucketIncidents).Get(id)
		if data == nil {
			return fmt.Errorf("incident %s: %w", id, models.ErrNotFound)
		}
		var decoded models.Incident
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}
		inc = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if models.TerminalStatus(inc.Status) {
		return nil, fmt.Errorf("fingerprint %s: %w", fingerprint, models.ErrNotFound)
	}
	return inc, nil
}

func (s *BoltStore) AppendDecision(ctx context.Context, dec *models.Decision) error {
	key := compositeKey(dec.IncidentID, dec.ID)
	return s.put(bucketDecisions, key, dec)
}

func (s *BoltStore) ListDecisions(ctx context.Context, incidentID string) ([]*models.Decision, error) {
	var decisions []*models.Decision
	err := s.scanPrefix(bucketDecisions, incidentID, func(v []byte) error {
		var dec models.Decision
		if err := json.Unmarshal(v, &dec); err != nil {
			return err
		}
		decisions = append(decisions, &dec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].CreatedAt.Before(decisions[j].CreatedAt)
	})
	return decisions, nil
}

func (s *BoltStore) AppendAction(ctx context.Context, act *models.Action) error {
	key := compositeKey(act.IncidentID, act.ID)
	return s.put(bucketActions, key, act)
}

func (s *BoltStore) UpdateAction(ctx context.Context, act *models.Action) error {
	key := compositeKey(act.IncidentID, act.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActions)
		if b.Get(key) == nil {
			return fmt.Errorf("action %s: %w", act.ID, models.ErrNotFound)
		}
		data, err := json.Marshal(act)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) FindAction(ctx context.Context, incidentID string, actionType models.ActionType, target string) (*models.Action, error) {
	var match *models.Action
	err := s.scanPrefix(bucketActions, incidentID, func(v []byte) error {
		var act models.Action
		if err := json.Unmarshal(v, &act); err != nil {
			return err
		}
		if act.Type != actionType || act.Target != target {
			return nil
		}
		if match == nil {
			match = &act
			return nil
		}
		// Prefer non-failed records; among equals, keep the latest.
		if match.Status == models.ActionFailed && act.Status != models.ActionFailed {
			match = &act
		} else if (match.Status == models.ActionFailed) == (act.Status == models.ActionFailed) &&
			act.ExecutedAt.After(match.ExecutedAt) {
			match = &act
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, fmt.Errorf("action %s/%s/%s: %w", incidentID, actionType, target, models.ErrNotFound)
	}
	return match, nil
}

func (s *BoltStore) ListActions(ctx context.Context, incidentID string) ([]*models.Action, error) {
	var actions []*models.Action
	err := s.scanPrefix(bucketActions, incidentID, func(v []byte) error {
		var act models.Action
		if err := json.Unmarshal(v, &act); err != nil {
			return err
		}
		actions = append(actions, &act)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].ExecutedAt.Before(actions[j].ExecutedAt)
	})
	return actions, nil
}

func (s *BoltStore) put(bucket, key []byte, value any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put(key, data)
	})
}

func (s *BoltStore) get(bucket, key []byte, out any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, models.ErrNotFound)
		}
		return json.Unmarshal(data, out)
	})
}

func (s *BoltStore) scanPrefix(bucket []byte, incidentID string, fn func(v []byte) error) error {
	prefix := []byte(incidentID + "/")
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(v); err != nil {
				return err
			}
		}
		return nil
	})
}

func compositeKey(incidentID, id string) []byte {
	return []byte(incidentID + "/" + id)
}
