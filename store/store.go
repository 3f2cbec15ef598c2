package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/axiomesh/axiom-kit/storage"
	"github.com/axiomesh/axiom-kit/storage/leveldb"
	"github.com/axiomesh/bounty-guardian/core"
	"github.com/pkg/errors"
)

const (
	creationPrefix = "creation/"
	cursorPrefix   = "cursor/"
)

// Store caches what never changes once it is on chain: proposal creation
// payloads and how far the event history has been scanned.
type Store struct {
	db storage.Storage
}

func Open(path string) (*Store, error) {
	db, err := leveldb.New(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}
	return New(db), nil
}

func New(db storage.Storage) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func creationKey(kind core.EventKind, id *big.Int) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", creationPrefix, kind, id.Text(16)))
}

func (s *Store) get(key []byte, v any) (bool, error) {
	data := s.db.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.Wrapf(err, "decode %s", key)
	}
	return true, nil
}

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	s.db.Put(key, data)
	return nil
}

// GovernanceRecord is the creation event of a governance proposal and the
// block it was emitted in.
type GovernanceRecord struct {
	Block   uint64
	Created core.ProposalCreatedData
}

type BountyRecord struct {
	Block   uint64
	Created core.BountyCreatedData
}

func (s *Store) GovernanceCreation(id *big.Int) (GovernanceRecord, bool, error) {
	var r GovernanceRecord
	ok, err := s.get(creationKey(core.EventProposalCreated, id), &r)
	return r, ok, err
}

func (s *Store) PutGovernanceCreation(id *big.Int, r GovernanceRecord) error {
	return s.put(creationKey(core.EventProposalCreated, id), r)
}

func (s *Store) BountyCreation(id uint64) (BountyRecord, bool, error) {
	var r BountyRecord
	ok, err := s.get(creationKey(core.EventBountyCreated, new(big.Int).SetUint64(id)), &r)
	return r, ok, err
}

func (s *Store) PutBountyCreation(id uint64, r BountyRecord) error {
	return s.put(creationKey(core.EventBountyCreated, new(big.Int).SetUint64(id)), r)
}

// Cursor returns the next block to scan for the named log stream.
func (s *Store) Cursor(name string) (uint64, bool) {
	data := s.db.Get([]byte(cursorPrefix + name))
	if len(data) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(data), true
}

// SetCursor only moves a cursor forward.
func (s *Store) SetCursor(name string, next uint64) {
	if cur, ok := s.Cursor(name); ok && cur >= next {
		return
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	s.db.Put([]byte(cursorPrefix+name), buf[:])
}

func (s *Store) ResetCursor(name string) {
	s.db.Delete([]byte(cursorPrefix + name))
}
